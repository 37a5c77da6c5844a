package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"quantcore/internal/config"
	"quantcore/internal/logger"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quantcore",
		Short:         "技术指标评分、策略池与回测引擎",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "配置文件路径（默认读取 QUANTCORE_CONFIG 或 "+defaultConfigPath+"）")
	root.PersistentFlags().String("log-level", "", "覆盖配置中的日志级别")

	root.AddCommand(
		newServeCmd(),
		newEvaluateCmd(),
		newExportCmd(),
		newBacktestCmd(),
		newReplayCmd(),
		newStrategiesCmd(),
	)
	return root
}

// loadConfig 显式指定的配置文件必须存在；默认路径不存在时使用内置默认值。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = os.Getenv("QUANTCORE_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = defaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.App.LogLevel = lvl
	}
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(cfg.App.LogLevel)
	if path != "" {
		logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, path)
	}
	return cfg, nil
}

// openInput 读取文件，"-" 表示标准输入。
func openInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
