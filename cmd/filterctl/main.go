// 濾心管理APIのコマンドラインクライアント。
// ログイン、一覧表示、追加、交換日の更新、削除と、ADMIN_PASSWORD用のハッシュ生成を行う。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nao1215/filterkeeper/internal/auth"
	"github.com/nao1215/filterkeeper/internal/filter"
	"github.com/nao1215/filterkeeper/pkg/httpclient"
)

const usage = `使い方: filterctl [-server URL] [-token TOKEN] <コマンド> [引数]

コマンド:
  login -username U -password P   トークンを取得して表示する
  list                            濾心の一覧を表示する
  status                          交換時期つきの一覧を表示する
  add -name N -lifespan D [-date YYYY-MM-DD]
                                  濾心を追加する（-date の既定は今日）
  touch NAME                      交換日を今日に更新する
  delete NAME                     濾心を削除する
  hash-password [-password P]     ADMIN_PASSWORD 用のargon2idハッシュを表示する（省略時は標準入力）

環境変数 FILTERKEEPER_URL と FILTERKEEPER_TOKEN で -server と -token の既定値を変更できる。
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "filterctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// errUsage は使い方の誤りを表す。
var errUsage = errors.New("引数が不正です")

// run はグローバルフラグを解釈してサブコマンドを実行する。
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("filterctl", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() { fmt.Fprint(stdout, usage) }
	serverURL := fs.String("server", envOr("FILTERKEEPER_URL", "http://localhost:5000"), "APIサーバーのURL")
	token := fs.String("token", os.Getenv("FILTERKEEPER_TOKEN"), "Bearerトークン")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	client := httpclient.New(*serverURL, httpclient.WithToken(*token))
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "login":
		return cmdLogin(ctx, client, rest, stdout)
	case "list":
		return cmdList(ctx, client, stdout)
	case "status":
		return cmdStatus(ctx, client, stdout)
	case "add":
		return cmdAdd(ctx, client, rest, stdout)
	case "touch":
		return cmdTouch(ctx, client, rest, stdout)
	case "delete":
		return cmdDelete(ctx, client, rest, stdout)
	case "hash-password":
		return cmdHashPassword(rest, stdin, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("%w: 不明なコマンド %q", errUsage, cmd)
	}
}

func cmdLogin(ctx context.Context, client *httpclient.Client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stdout)
	username := fs.String("username", "admin", "ユーザー名")
	password := fs.String("password", "", "パスワード")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := client.PostJSON(ctx, "/login", map[string]string{
		"username": *username,
		"password": *password,
	}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(stdout, resp.AccessToken)
	return nil
}

func cmdList(ctx context.Context, client *httpclient.Client, stdout io.Writer) error {
	var records []filter.Record
	if err := client.GetJSON(ctx, "/filters", &records); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAST_REPLACE\tLIFESPAN")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Name, r.LastReplace, r.Lifespan)
	}
	return tw.Flush()
}

func cmdStatus(ctx context.Context, client *httpclient.Client, stdout io.Writer) error {
	var statuses []filter.Status
	if err := client.GetJSON(ctx, "/filters/status", &statuses); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLAST_REPLACE\tNEXT_REPLACE\tREMAINING\tLEVEL")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", st.Name, st.LastReplace, st.NextReplace, st.RemainingDays, st.Level)
	}
	return tw.Flush()
}

func cmdAdd(ctx context.Context, client *httpclient.Client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stdout)
	name := fs.String("name", "", "濾心の名前")
	date := fs.String("date", time.Now().Format(filter.DateLayout), "最後に交換した日付（YYYY-MM-DD）")
	lifespan := fs.Int("lifespan", 0, "寿命（日数）")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *lifespan <= 0 {
		return fmt.Errorf("%w: -name と正の -lifespan が必要です", errUsage)
	}

	var resp struct {
		Message string        `json:"message"`
		Filter  filter.Record `json:"filter"`
	}
	if err := client.PostJSON(ctx, "/add", filter.Record{
		Name:        *name,
		LastReplace: *date,
		Lifespan:    *lifespan,
	}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %s (%s, %d日)\n", resp.Message, resp.Filter.Name, resp.Filter.LastReplace, resp.Filter.Lifespan)
	return nil
}

func cmdTouch(ctx context.Context, client *httpclient.Client, args []string, stdout io.Writer) error {
	name, err := singleName("touch", args)
	if err != nil {
		return err
	}

	var resp struct {
		Message string        `json:"message"`
		Updated filter.Record `json:"updated"`
	}
	if err := client.PostJSON(ctx, "/update", map[string]string{"name": name}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %s (%s)\n", resp.Message, resp.Updated.Name, resp.Updated.LastReplace)
	return nil
}

func cmdDelete(ctx context.Context, client *httpclient.Client, args []string, stdout io.Writer) error {
	name, err := singleName("delete", args)
	if err != nil {
		return err
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := client.PostJSON(ctx, "/delete", map[string]string{"name": name}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(stdout, resp.Message)
	return nil
}

func cmdHashPassword(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(stdout)
	password := fs.String("password", "", "ハッシュ化するパスワード")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("パスワードの読み込みに失敗: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(pw, auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

func singleName(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%w: %s には濾心の名前を1つ指定してください", errUsage, cmd)
	}
	return args[0], nil
}

// envOr は環境変数の値を返す。未設定の場合はfallbackを返す。
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
