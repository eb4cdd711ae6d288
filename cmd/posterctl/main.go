// posterctl drives the authoring pipeline headless: load a snapshot, pick a
// template, render a preview, generate, promote and deliver, all against the
// same data directory the studio server uses.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/delivery"
	"posterstudio/internal/domain"
	"posterstudio/internal/generate"
	"posterstudio/internal/infra"
	"posterstudio/internal/prompts"
	"posterstudio/internal/render"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
	"posterstudio/internal/templates"
	"posterstudio/pkg/zip"
)

func main() {
	var (
		baseFlag     string
		snapshotFlag string
		templateFlag string
		previewFlag  string
		generateFlag bool
		abFlag       bool
		promoteFlag  int
		emailFlag    string
		exportFlag   string
		statusFlag   bool
	)

	flag.StringVar(&baseFlag, "base", "", "backend base URL to use and remember for later runs")
	flag.StringVar(&snapshotFlag, "snapshot", "", "path to a stage1 snapshot JSON to install")
	flag.StringVar(&templateFlag, "template", "", "template id to select (reconciles the state)")
	flag.StringVar(&previewFlag, "preview", "", "render the preview PNG to this path")
	flag.BoolVar(&generateFlag, "generate", false, "run a poster generation")
	flag.BoolVar(&abFlag, "ab", false, "force at least two variants for the generation")
	flag.IntVar(&promoteFlag, "promote", -1, "promote variant N to primary")
	flag.StringVar(&emailFlag, "email", "", "send the generated poster to this recipient")
	flag.StringVar(&exportFlag, "export", "", "write the poster export archive to this path")
	flag.BoolVar(&statusFlag, "status", false, "print the stage1 completion status and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "posterctl").Logger()

	assets := assetstore.Open(filepath.Join(cfg.DataDir, "assets"), &logger)
	sessions := session.Open(filepath.Join(cfg.DataDir, "session"), cfg.SessionQuota, &logger)

	if baseFlag != "" {
		normalized, ok := apiclient.NormalizeBase(baseFlag)
		if !ok {
			exitWithError(fmt.Errorf("invalid base URL %q", baseFlag))
		}
		if err := sessions.Set(session.APIBaseKey, normalized); err != nil {
			logger.Warn().Err(err).Msg("base not remembered")
		}
	}
	savedBase, _ := sessions.Get(session.APIBaseKey)
	bases := apiclient.ResolveBases(savedBase, cfg.APIBases)
	api := apiclient.NewClient(apiclient.Options{
		Logger:       &logger,
		HealthTTL:    cfg.HealthTTL,
		ProbeTimeout: cfg.ProbeTimeout,
		RetryBackoff: cfg.RetryBackoff,
		BodyLimit:    cfg.BodyLimit,
	})
	model := stage1.NewModel(sessions, assets, &logger)
	registry := templates.NewRegistry(api, cfg.StaticBase, &logger)
	composer := prompts.NewComposer(nil, &logger)
	orchestrator := generate.NewOrchestrator(generate.Options{
		API: api, Bases: bases, Assets: assets,
		Sessions: sessions, Model: model, Composer: composer, Logger: &logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if snapshotFlag != "" {
		data, err := os.ReadFile(snapshotFlag)
		if err != nil {
			exitWithError(fmt.Errorf("read snapshot: %w", err))
		}
		var snap domain.Stage1Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			exitWithError(fmt.Errorf("decode snapshot: %w", err))
		}
		model.Replace(ctx, snap, false)
		fmt.Println("snapshot installed")
	}

	if templateFlag != "" {
		spec, err := registry.Spec(ctx, templateFlag)
		if err != nil {
			exitWithError(fmt.Errorf("load template: %w", err))
		}
		views := templates.NewReconciler(assets, &logger).Apply(ctx, model, spec)
		for _, view := range views {
			fmt.Printf("%s: upload=%v prompt=%v\n", view.Name, view.AllowsUpload, view.AllowsPrompt)
		}
	}

	if statusFlag {
		complete, reason := model.StrictComplete()
		if complete {
			fmt.Println("stage1 complete")
		} else {
			fmt.Printf("stage1 incomplete: %s\n", reason)
		}
	}

	if previewFlag != "" {
		snap := model.Snapshot()
		if snap.TemplateID == "" {
			exitWithError(errors.New("no template selected; use -template first"))
		}
		spec, err := registry.Spec(ctx, snap.TemplateID)
		if err != nil {
			exitWithError(fmt.Errorf("load template: %w", err))
		}
		renderer := render.NewRenderer(render.Options{Assets: assets, Logger: &logger, FontPath: cfg.FontPath})
		data, err := renderer.Render(ctx, &snap, spec)
		if err != nil {
			exitWithError(fmt.Errorf("render preview: %w", err))
		}
		if err := os.WriteFile(previewFlag, data, 0o644); err != nil {
			exitWithError(fmt.Errorf("write preview: %w", err))
		}
		model.MarkPreviewBuilt(ctx, render.LayoutPreviewText(&snap, spec))
		fmt.Printf("preview written to %s\n", previewFlag)
	}

	if generateFlag {
		var result *domain.Stage2Result
		var err error
		if abFlag {
			result, err = orchestrator.GenerateAB(ctx)
		} else {
			result, err = orchestrator.Generate(ctx)
		}
		if err != nil {
			exitWithError(fmt.Errorf("generate: %w", err))
		}
		printResult(result)
	}

	if promoteFlag >= 0 {
		result, err := orchestrator.PromoteVariant(ctx, promoteFlag)
		if err != nil {
			exitWithError(fmt.Errorf("promote: %w", err))
		}
		printResult(result)
	}

	if emailFlag != "" {
		result, ok := orchestrator.Result(ctx)
		if !ok {
			exitWithError(errors.New("no generated poster to send; run -generate first"))
		}
		snap := model.Snapshot()
		mailer := delivery.NewMailer(api, bases, &logger)
		if err := mailer.Send(ctx, emailFlag, &snap, result); err != nil {
			exitWithError(fmt.Errorf("send email: %w", err))
		}
		fmt.Printf("poster sent to %s\n", emailFlag)
	}

	if exportFlag != "" {
		result, ok := orchestrator.Result(ctx)
		if !ok {
			exitWithError(errors.New("no generated poster to export; run -generate first"))
		}
		data := exportArchive(result)
		if data == nil {
			exitWithError(errors.New("nothing to export"))
		}
		if err := os.WriteFile(exportFlag, data, 0o644); err != nil {
			exitWithError(fmt.Errorf("write archive: %w", err))
		}
		fmt.Printf("archive written to %s\n", exportFlag)
	}
}

// exportArchive packs the locally held poster images plus the final prompt.
func exportArchive(result *domain.Stage2Result) []byte {
	var entries []zip.Entry
	add := func(ref domain.ImageRef, fallback string) {
		_, encoded, ok := strings.Cut(ref.PreviewURL, ";base64,")
		if !ok || !strings.HasPrefix(ref.PreviewURL, "data:") {
			return
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return
		}
		name := ref.Filename
		if name == "" {
			name = fallback
		}
		entries = append(entries, zip.Entry{Name: name, Data: data})
	}
	add(result.PosterImage, "poster.png")
	for i, v := range result.Variants {
		add(v, fmt.Sprintf("variant-%d.png", i+1))
	}
	if result.Prompt != "" {
		entries = append(entries, zip.Entry{Name: "prompt.txt", Data: []byte(result.Prompt)})
	}
	data, err := zip.Archive(entries)
	if err != nil {
		return nil
	}
	return data
}

func printResult(result *domain.Stage2Result) {
	fmt.Printf("poster: key=%s url=%s\n", result.PosterImage.StorageKey, result.PosterImage.RemoteURL)
	for i, v := range result.Variants {
		fmt.Printf("variant %d: key=%s url=%s\n", i, v.StorageKey, v.RemoteURL)
	}
	if result.Prompt != "" {
		fmt.Printf("prompt: %s\n", result.Prompt)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
