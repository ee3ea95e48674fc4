package app

import (
	"fmt"
	"strconv"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。既定のモード。
	CommandServe Command = "serve"
	// CommandWorker は期限切れリフレッシュトークンの削除ワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを更新する。"migrate down [N]" で直近N件を取り消す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの /health を確認する。
	// distrolessイメージにはcurlが無いため、Dockerのヘルスチェックから使う。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// Invocation はコマンドライン引数を解釈した結果。
type Invocation struct {
	Command Command
	// Args はサブコマンド名より後ろの引数。
	Args []string
}

// ParseInvocation はos.Args[1:]からサブコマンドを解析する。
// 引数が空、またはサブコマンド名でない場合はserveとして扱う。
func ParseInvocation(args []string) Invocation {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}
	}
	cmd, ok := knownCommands[strings.ToLower(strings.TrimSpace(args[0]))]
	if !ok {
		return Invocation{Command: CommandServe}
	}
	return Invocation{Command: cmd, Args: args[1:]}
}

// NeedsConfig は起動前に環境変数から設定を読み込む必要があるかを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}

// RollbackSteps はmigrateの引数から取り消す件数を返す。
// 0は最新まで適用することを表す。
//
//	migrate          → 0
//	migrate up       → 0
//	migrate down     → 1
//	migrate down 3   → 3
func (inv Invocation) RollbackSteps() (int, error) {
	if len(inv.Args) == 0 {
		return 0, nil
	}
	switch strings.ToLower(inv.Args[0]) {
	case "up":
		return 0, nil
	case "down":
		if len(inv.Args) < 2 {
			return 1, nil
		}
		n, err := strconv.Atoi(inv.Args[1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid rollback steps %q: must be a positive integer", inv.Args[1])
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown migrate direction %q: use up or down", inv.Args[0])
	}
}
