package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ProcessMCP/internal/api"
	"ProcessMCP/internal/auth"
	"ProcessMCP/internal/compiler"
	"ProcessMCP/internal/task"
	"ProcessMCP/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP API 与批量任务处理器",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		store, queue, err := a.taskRuntime(ctx)
		if err != nil {
			return err
		}
		guard, err := auth.NewService(a.cfg.Server.Auth)
		if err != nil {
			return err
		}
		if !guard.Enabled() {
			logger.L().Warn("未配置 API 令牌，HTTP 接口不做认证")
		}

		service := task.NewService(store, queue, a.cfg.TaskQueue.MaxRetries)
		processor := task.NewProcessor(a.compiler, store, queue, queue,
			task.WithWorkerCount(a.cfg.TaskQueue.Workers),
			task.WithProcessorLogger(logger.Named("task")),
			task.WithCredential(a.credential()),
			task.WithAlertDispatcher(a.alerter()),
			task.WithProcessorMetrics(a.metrics),
		)

		processorCtx, processorCancel := context.WithCancel(ctx)
		defer processorCancel()
		go func() {
			if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("任务处理器异常退出", slog.Any("error", err))
			}
		}()

		server := api.NewServer(a.cfg.Server.Address, a.compiler,
			api.WithTaskService(service),
			api.WithMetrics(a.metrics),
			api.WithCredential(a.credential()),
			api.WithAuth(guard),
		)
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var compileCmd = &cobra.Command{
	Use:   "compile <target> <request...>",
	Short: "编译并投递一条请求",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompile(cmd, args, false)
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <target> <request...>",
	Short: "只编译并模拟请求，不投递消息",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompile(cmd, args, true)
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover <target>",
	Short: "读取目标进程的协议文档",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		doc := a.discoverer.Discover(cmd.Context(), args[0])
		if doc == nil {
			return errors.New("目标未提供可用的协议文档，将使用旧路径处理请求")
		}
		return printJSON(cmd, doc)
	},
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, simulateCmd} {
		c.Flags().StringVar(&mode, "mode", "", "read、write、validate 或 auto")
		c.Flags().StringVar(&walletAddress, "wallet-address", "", "写消息使用的钱包地址（默认读取 PROCESSMCP_WALLET_ADDRESS）")
	}
	compileCmd.Flags().BoolVar(&confirmed, "confirm", false, "确认高风险操作")
	serveCmd.Flags().StringVar(&walletAddress, "wallet-address", "", "批量任务使用的钱包地址")
}

func runCompile(cmd *cobra.Command, args []string, dryRun bool) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	target, text := args[0], strings.Join(args[1:], " ")
	opts := compiler.Options{Mode: mode, Confirmed: confirmed}

	var res compiler.Result
	if dryRun {
		res = a.compiler.Simulate(cmd.Context(), target, text, opts)
	} else {
		res = a.compiler.CompileAndExecute(cmd.Context(), target, text, a.credential(), opts)
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error.AsError()
	}
	if res.Status == compiler.StatusConfirmationRequired {
		cmd.PrintErrln("该操作需要确认，请检查提示后使用 --confirm 重新执行。")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
