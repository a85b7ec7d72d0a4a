package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bigkaa/goartstore/purge-module/internal/classifier"
	"github.com/bigkaa/goartstore/purge-module/internal/domain/audit"
	"github.com/bigkaa/goartstore/purge-module/internal/service"
	"github.com/bigkaa/goartstore/purge-module/internal/source"
)

// auditOptions: флаги команды audit.
type auditOptions struct {
	demo              bool
	yes               bool
	threshold         float64
	classifierURL     string
	classifierTimeout time.Duration
	driveURL          string
	accessToken       string //nolint:gosec // G101: поле структуры
	concurrency       int
	rate              float64
}

func newAuditCommand(root *rootOptions) *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Найти кандидатов на очистку и переместить выбранные в корзину",
		Long: `Сканирует хранилище (или демонстрационный набор с --demo), отправляет
метаданные файлов классификатору и показывает кандидатов на очистку.
Файлы с уверенностью выше порога выбираются автоматически.

В терминале открывается интерактивный просмотр. Без терминала
кандидаты печатаются списком, удаление выполняется только с --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.applyEnv(cmd.Flags()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := opts.buildDeps(ctx, root.logger)
			if err != nil {
				return err
			}

			interactive := !opts.yes && isTerminal(os.Stdout) && isTerminal(os.Stdin)
			return runAudit(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), deps, *opts, interactive)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.demo, "demo", false, "Использовать демонстрационный набор вместо хранилища")
	f.BoolVarP(&opts.yes, "yes", "y", false, "Удалить автоматически выбранные файлы без подтверждения")
	f.Float64Var(&opts.threshold, "threshold", 0.75, "Порог уверенности автоматического выбора [0, 1] (PM_CONFIDENCE_THRESHOLD)")
	f.StringVar(&opts.classifierURL, "classifier-url", "", "URL сервиса классификации (PM_CLASSIFIER_URL)")
	f.DurationVar(&opts.classifierTimeout, "classifier-timeout", 120*time.Second, "Таймаут запроса к классификатору")
	f.StringVar(&opts.driveURL, "drive-url", "https://www.googleapis.com/drive/v3", "URL API хранилища (PM_DRIVE_API_URL)")
	f.StringVar(&opts.accessToken, "token", "", "Access token хранилища (PM_DRIVE_ACCESS_TOKEN)")
	f.IntVar(&opts.concurrency, "concurrency", 4, "Параллельность удаления")
	f.Float64Var(&opts.rate, "rate", 10, "Максимум удалений в секунду")
	return cmd
}

// applyEnv заполняет незаданные флаги из окружения.
func (o *auditOptions) applyEnv(flags *pflag.FlagSet) error {
	fromEnv := func(flag, env string, dst *string) {
		if flags.Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fromEnv("classifier-url", "PM_CLASSIFIER_URL", &o.classifierURL)
	fromEnv("drive-url", "PM_DRIVE_API_URL", &o.driveURL)
	fromEnv("token", "PM_DRIVE_ACCESS_TOKEN", &o.accessToken)

	if !flags.Changed("threshold") {
		if v := os.Getenv("PM_CONFIDENCE_THRESHOLD"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("PM_CONFIDENCE_THRESHOLD: некорректное число: %q", v)
			}
			o.threshold = t
		}
	}
	return audit.ValidateThreshold(o.threshold)
}

// buildDeps создаёт коллабораторов сессии.
// Живой источник создаётся только без --demo.
func (o *auditOptions) buildDeps(ctx context.Context, logger *slog.Logger) (audit.Deps, error) {
	if o.classifierURL == "" {
		return audit.Deps{}, errors.New("не задан URL классификатора: --classifier-url или PM_CLASSIFIER_URL")
	}
	model := os.Getenv("PM_CLASSIFIER_MODEL")
	if model == "" {
		model = "default"
	}
	cls, err := classifier.New(classifier.Options{
		URL:        o.classifierURL,
		CACertPath: os.Getenv("PM_CA_CERT_PATH"),
		Timeout:    o.classifierTimeout,
	}, classifier.StaticCredentials(os.Getenv("PM_CLASSIFIER_API_KEY"), model), logger)
	if err != nil {
		return audit.Deps{}, err
	}

	deps := audit.Deps{
		Demo:       source.NewDemo(),
		Classifier: cls,
		Remediator: service.NewRemediationEngine(service.RemediationOptions{
			Concurrency: o.concurrency,
			Rate:        o.rate,
		}, logger),
		Logger: logger,
	}
	if o.demo {
		return deps, nil
	}

	tokens, err := o.tokenProvider(logger)
	if err != nil {
		return audit.Deps{}, err
	}
	drive, err := source.NewDrive(source.DriveOptions{
		APIURL:     o.driveURL,
		CACertPath: os.Getenv("PM_CA_CERT_PATH"),
		Timeout:    30 * time.Second,
	}, tokens, logger)
	if err != nil {
		return audit.Deps{}, err
	}
	go drive.Init(ctx)
	deps.Source = drive
	return deps, nil
}

// tokenProvider выбирает способ авторизации в хранилище:
// явный access token либо refresh token из окружения.
func (o *auditOptions) tokenProvider(logger *slog.Logger) (source.TokenProvider, error) {
	if o.accessToken != "" {
		return source.StaticToken(o.accessToken), nil
	}
	if refresh := os.Getenv("PM_DRIVE_REFRESH_TOKEN"); refresh != "" {
		ts := source.NewRefreshTokenSource(
			os.Getenv("PM_DRIVE_TOKEN_URL"),
			os.Getenv("PM_DRIVE_CLIENT_ID"),
			os.Getenv("PM_DRIVE_CLIENT_SECRET"),
			refresh,
			&http.Client{Timeout: 30 * time.Second},
			logger,
		)
		return ts.Token, nil
	}
	return nil, errors.New("нет авторизации в хранилище: задайте --token или PM_DRIVE_REFRESH_TOKEN, либо используйте --demo")
}

// runAudit выполняет сканирование, просмотр и удаление.
func runAudit(ctx context.Context, in io.Reader, out io.Writer, deps audit.Deps, opts auditOptions, interactive bool) error {
	s, err := audit.NewSession(uuid.NewString(), deps, audit.Options{Threshold: opts.threshold})
	if err != nil {
		return err
	}

	if opts.demo {
		err = s.StartDemo(ctx)
	} else {
		err = s.StartScan(ctx)
	}
	if err != nil {
		return fmt.Errorf("сканирование: %w", err)
	}

	if interactive {
		return runReview(ctx, in, out, s)
	}

	st := s.State()
	printCandidates(out, st)
	if !opts.yes {
		fmt.Fprintln(out, "Для перемещения выбранных файлов в корзину запустите команду с --yes")
		return nil
	}
	if len(st.Selection) == 0 {
		fmt.Fprintln(out, "Нет файлов с уверенностью выше порога")
		return nil
	}

	result, err := s.Remediate(ctx)
	if err != nil {
		return err
	}
	printResult(out, st.Files, result)
	if result.AllFailed() {
		return errors.New("ни один файл не перемещён в корзину")
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
