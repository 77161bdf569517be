package app

import "strings"

// Command はatelierの起動モード。
type Command string

const (
	// CommandServe は認証APIとワークショップAPIを提供するHTTPサーバー。
	CommandServe Command = "serve"
	// CommandWorker は失効した確認コード・再設定コードを定期削除するワーカー。
	CommandWorker Command = "worker"
	// CommandMigrate はSTORE_BACKENDのスキーマ（PostgreSQLのテーブル、MongoDBのインデックス）を作成する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はserveの/healthを叩いて終了コードで結果を返す。
	// distrolessイメージのDockerヘルスチェック用で、設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。大文字小文字は区別しない。
// 引数なし、または未知のサブコマンドはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	cmd, _ := lookupCommand(args)
	return cmd
}

// lookupCommand はParseCommandと同じ解釈を行い、先頭の引数が既知のサブコマンドだったかも返す。
func lookupCommand(args []string) (Command, bool) {
	if len(args) == 0 {
		return CommandServe, true
	}
	if cmd, ok := commands[strings.ToLower(strings.TrimSpace(args[0]))]; ok {
		return cmd, true
	}
	return CommandServe, false
}
