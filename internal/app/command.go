package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/config"
)

// RunFunc: RunProducer или RunConsumer.
type RunFunc func(ctx context.Context, cfg *config.Config, log *logger.Logger) error

type flags struct {
	configPath string
	transport  string
	logLevel   string
	printCfg   bool
}

func (f *flags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to config file (yaml/json/toml)")
	fs.StringVar(&f.transport, "transport", "", "transport kind: http | sarama | franz | memory")
	fs.StringVar(&f.logLevel, "log-level", "", "debug | info | warn | error")
	fs.BoolVar(&f.printCfg, "print-config", false, "print the effective config (password masked)")
}

// overrides: только явно заданные флаги перекрывают файл и ENV.
func (f *flags) overrides(fs *pflag.FlagSet) map[string]interface{} {
	out := map[string]interface{}{}
	if fs.Changed("transport") {
		out["transport.kind"] = f.transport
	}
	if fs.Changed("log-level") {
		out["logging.level"] = f.logLevel
	}
	return out
}

// NewCommand собирает cobra-команду бинарника: config → logger → сигналы → run.
func NewCommand(role config.Role, short string, run RunFunc) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "iggy-" + string(role),
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 1. Конфиг
			cfg, err := config.Load(f.configPath, role, f.overrides(cmd.Flags()))
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			// --print-config: только вывод, без запуска
			if f.printCfg {
				if err := cfg.Print(cmd.OutOrStdout()); err != nil {
					return fmt.Errorf("print config: %w", err)
				}
				return nil
			}

			// 2. Логгер
			log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
			if err != nil {
				return fmt.Errorf("logger init error: %w", err)
			}
			defer log.Sync()

			// 3. Контекст с отменой по сигналам
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("starting service",
				zap.String("service.name", cfg.ServiceName),
				zap.String("service.version", cfg.ServiceVersion),
				zap.String("transport", cfg.Transport.Kind),
			)

			// 4. Основной цикл
			if err := run(ctx, cfg, log); err != nil {
				log.Error("application exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

// Main исполняет команду и завершает процесс с кодом 1 при ошибке.
func Main(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
