package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ProcessMCP/pkg/logger"
)

var (
	configPath    string
	mode          string
	confirmed     bool
	walletAddress string
)

var rootCmd = &cobra.Command{
	Use:   "processmcpd",
	Short: "将自然语言请求编译为 AO 进程消息",
	Long: `processmcpd 读取目标进程的协议文档，识别操作、提取并校验参数，
选择编码方式并在评估风险后投递消息。

serve 启动 HTTP API 与批量任务处理器；compile、simulate 与 discover
用于在命令行中直接调用编译器。`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// .env 不存在时忽略。
		_ = godotenv.Load()
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认读取 PROCESSMCP_CONFIG 或 configs/processmcp.json）")
	rootCmd.AddCommand(serveCmd, compileCmd, simulateCmd, discoverCmd)
}

// main 是 ProcessMCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "processmcpd 运行失败: %v\n", err)
		os.Exit(1)
	}
}
