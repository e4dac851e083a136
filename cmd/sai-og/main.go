package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/config"
	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/service"
	"github.com/saiset-co/sai-og/templates"
	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

func main() {
	app := &cli.App{
		Name:  "sai-og",
		Usage: "render Open Graph images from SVG templates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config; built-in defaults when empty",
				EnvVars: []string{"SAI_OG_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			renderCommand(),
			templatesCommand(),
			configCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg.Server.Enabled = true

			svc, l, err := newService(c.Context, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			return svc.Run()
		},
	}
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "render one image to a file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Required: true},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON object with template data"},
			&cli.IntFlag{Name: "width", Value: 1200},
			&cli.IntFlag{Name: "height", Value: 630},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "png"},
			&cli.IntFlag{Name: "quality", Usage: "JPEG/WebP quality, 1-100"},
			&cli.IntFlag{Name: "compression", Value: -1, Usage: "PNG compression level, 0-9"},
			&cli.StringFlag{Name: "bg", Usage: "background color"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file; stdout when empty"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg.Server.Enabled = false

			params, err := renderParams(c)
			if err != nil {
				return err
			}

			svc, l, err := newService(c.Context, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			if err := svc.Start(); err != nil {
				return err
			}
			defer func() { _ = svc.Stop() }()

			img, err := svc.Generator().Generate(c.Context, params)
			if err != nil {
				return err
			}

			out := c.String("out")
			if out == "" {
				_, err = os.Stdout.Write(img.Data)
				return err
			}
			if err := os.WriteFile(out, img.Data, 0o644); err != nil {
				return types.WrapError(err, "failed to write image")
			}

			l.Info("Image written",
				zap.String("file", out),
				zap.String("key", img.Key),
				zap.Int("bytes", len(img.Data)))
			return nil
		},
	}
}

func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "list the templates found in templates.dir",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			engine := templates.NewEngine(logger.NewNop(), cfg.Templates, cfg.Limits)
			if cfg.Templates.Dir != "" {
				if _, err := engine.LoadDir(cfg.Templates.Dir); err != nil {
					return err
				}
			}

			for _, name := range engine.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:      "config",
		Usage:     "print the effective configuration, or one dotted path of it",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "paths", Usage: "list every configurable path"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			parser := config.NewParser(cfg)

			if c.Bool("paths") {
				fmt.Println(strings.Join(parser.Paths(), "\n"))
				return nil
			}

			out, err := parser.YAML(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func loadConfig(c *cli.Context) (*types.EngineConfig, error) {
	loader := config.NewLoader()

	path := c.String("config")
	if path == "" {
		cfg := loader.Defaults()
		return cfg, loader.Validate(cfg)
	}

	return loader.LoadFromFile(path)
}

func newService(ctx context.Context, cfg *types.EngineConfig) (*service.Service, types.Logger, error) {
	l, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}

	svc, err := service.New(ctx, cfg, l)
	if err != nil {
		return nil, nil, err
	}
	return svc, l, nil
}

func renderParams(c *cli.Context) (*types.RenderParams, error) {
	format, err := types.ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	params := &types.RenderParams{
		Template: c.String("template"),
		Width:    c.Int("width"),
		Height:   c.Int("height"),
		Format:   format,
	}

	if raw := c.String("data"); raw != "" {
		if err := utils.Unmarshal([]byte(raw), &params.Data); err != nil {
			return nil, types.WrapKind(types.KindInvalidParams, err, "--data must be a JSON object")
		}
	}

	if c.IsSet("quality") {
		q := c.Int("quality")
		params.Quality = &q
	}
	if c.Int("compression") >= 0 {
		level := c.Int("compression")
		params.Compression = &level
	}

	if bg := c.String("bg"); bg != "" {
		color, err := types.ParseColor(bg)
		if err != nil {
			return nil, err
		}
		params.BackgroundColor = &color
	}

	return params, nil
}
