package app

import "fmt"

// Command はfinsightバイナリのサブコマンド。
type Command string

const (
	// CommandServe はBFFのHTTPサーバーを起動する。引数なしの場合もこれになる。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除のみを行う。
	// メモリストアのセッションはプロセス外から見えないため、PostgreSQLが前提。
	CommandWorker Command = "worker"
	// CommandMigrate はusers/sessionsテーブルのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了コードで結果を返す。
	// シェルのないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 未知のサブコマンドや引数なしはserve扱い。2番目以降の引数は見ない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// RequiresDatabase はDATABASE_URLが設定されていないと実行できないコマンドかどうかを返す。
func (c Command) RequiresDatabase() bool {
	return c == CommandWorker || c == CommandMigrate
}

// checkPreconditions は設定がコマンドの前提を満たしているかを確認する。
func (c Command) checkPreconditions(usePostgres bool) error {
	if c.RequiresDatabase() && !usePostgres {
		return fmt.Errorf("%s requires DATABASE_URL", c)
	}
	return nil
}
