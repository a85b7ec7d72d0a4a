// Пакет cli: терминальный клиент purgectl.
//
// purgectl выполняет тот же конвейер аудита, что и сервис, но локально:
// сканирование, классификация, просмотр кандидатов и удаление выбранных
// файлов в одном процессе. Конфигурация берётся из флагов и переменных
// окружения PM_*, которые можно задать в файлах .env.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// defaultEnvFiles: файлы окружения, загружаемые при старте (отсутствующие пропускаются).
var defaultEnvFiles = []string{".env", ".env.local"}

// rootOptions: глобальные флаги purgectl.
type rootOptions struct {
	version  string
	logLevel string
	envFiles []string
	logger   *slog.Logger
}

// NewRootCommand создаёт дерево команд purgectl.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	cmd := &cobra.Command{
		Use:           "purgectl",
		Short:         "Аудит и очистка облачного хранилища",
		Long:          "purgectl находит в облачном хранилище дубликаты, старые и крупные файлы\nи перемещает выбранные в корзину.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnvFiles(opts.envFiles)
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Уровень логирования (debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", defaultEnvFiles, "Файлы окружения для загрузки")

	cmd.AddCommand(newAuditCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

// loadEnvFiles загружает файлы окружения. Уже заданные переменные не перезаписываются.
func loadEnvFiles(files []string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// newLogger создаёт текстовый slog-логгер в stderr.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("недопустимый уровень логирования: %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "purgectl %s\n", opts.version)
			return err
		},
	}
}
