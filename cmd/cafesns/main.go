// Command cafesns はカフェSNSの認証APIサーバー。
//
// サブコマンド:
//
//	serve        APIサーバーを起動する（デフォルト）
//	worker       期限切れリフレッシュトークンを日次で削除する
//	migrate      データベースマイグレーションを適用する
//	healthcheck  稼働中サーバーの /health を確認する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/cafesns/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cafesns: %v\n", err)
		os.Exit(1)
	}
}
