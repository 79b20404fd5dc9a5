// Command restockctl manages the encrypted account store and inspects
// the transition history.
//
// Usage:
//
//	restockctl accounts add -login buyer@example.com [-proxy host:port] [-payment "visa …1234"]
//	restockctl accounts list
//	restockctl accounts show <position|login>
//	restockctl accounts update <position|login> [-login …] [-proxy …] [-payment …]
//	restockctl accounts remove <position|login>
//	restockctl history [-n 20]
//
// The store directory defaults to ~/.restockd (override with -store).
// The vault passphrase comes from RESTOCKD_PASSPHRASE or an interactive
// no-echo prompt.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	_ "modernc.org/sqlite"

	"golang.org/x/term"

	"github.com/restockd/restockd/history"
	"github.com/restockd/restockd/secrets"
)

func main() {
	args := os.Args[1:]
	storeDir := defaultStoreDir()
	if len(args) >= 2 && args[0] == "-store" {
		storeDir = args[1]
		args = args[2:]
	}

	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "accounts":
		err = cmdAccounts(storeDir, args[1:])
	case "history":
		err = cmdHistory(storeDir, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `restockctl — manage accounts and inspect transition history

usage:
  restockctl [-store DIR] accounts add -login LOGIN [-proxy HOST:PORT] [-proxy-user U] [-proxy-pass P] [-payment LABEL]
  restockctl [-store DIR] accounts list
  restockctl [-store DIR] accounts show   <position|login>
  restockctl [-store DIR] accounts update <position|login> [-login L] [-proxy HOST:PORT] [-payment LABEL]
  restockctl [-store DIR] accounts remove <position|login>
  restockctl [-store DIR] history [-n 20]

Accounts are addressed by 1-based list position or by exact login.
The vault passphrase is read from RESTOCKD_PASSPHRASE or prompted.
`)
}

func defaultStoreDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".restockd")
	}
	return ".restockd"
}

func openStore(dir string) (*secrets.Store, error) {
	pass := os.Getenv("RESTOCKD_PASSPHRASE")
	if pass == "" {
		var err error
		pass, err = promptPassphrase("Vault passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
	}
	if pass == "" {
		return nil, errors.New("empty passphrase")
	}
	return secrets.New(dir, pass), nil
}

func promptPassphrase(prompt string) (string, error) {
	if !term.IsTerminal(syscall.Stdin) {
		return "", errors.New("stdin is not a terminal and RESTOCKD_PASSPHRASE is unset")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(syscall.Stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func cmdAccounts(storeDir string, args []string) error {
	if len(args) < 1 {
		printUsage()
		return errors.New("accounts: missing subcommand")
	}

	store, err := openStore(storeDir)
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		return accountsAdd(store, args[1:])
	case "list":
		return accountsList(store)
	case "show":
		return accountsShow(store, args[1:])
	case "update":
		return accountsUpdate(store, args[1:])
	case "remove":
		return accountsRemove(store, args[1:])
	default:
		return fmt.Errorf("accounts: unknown subcommand %q", args[0])
	}
}

// kvFlags parses "-key value" pairs, leaving positional args in front.
func kvFlags(args []string) (positional []string, flags map[string]string, err error) {
	flags = make(map[string]string)
	i := 0
	for i < len(args) && !strings.HasPrefix(args[i], "-") {
		positional = append(positional, args[i])
		i++
	}
	for i < len(args) {
		key := strings.TrimPrefix(args[i], "-")
		if i+1 >= len(args) {
			return nil, nil, fmt.Errorf("flag -%s needs a value", key)
		}
		flags[key] = args[i+1]
		i += 2
	}
	return positional, flags, nil
}

func parseProxy(spec, user, pass string) (*secrets.Proxy, error) {
	host, portStr, ok := strings.Cut(spec, ":")
	if !ok || host == "" {
		return nil, fmt.Errorf("proxy %q: want HOST:PORT", spec)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("proxy %q: bad port", spec)
	}
	return &secrets.Proxy{Host: host, Port: port, Username: user, Password: pass}, nil
}

func accountsAdd(store *secrets.Store, args []string) error {
	_, flags, err := kvFlags(args)
	if err != nil {
		return err
	}
	login := flags["login"]
	if login == "" {
		return errors.New("accounts add: -login is required")
	}

	draft := secrets.Draft{Login: login, PaymentLabel: flags["payment"]}
	if spec := flags["proxy"]; spec != "" {
		p, err := parseProxy(spec, flags["proxy-user"], flags["proxy-pass"])
		if err != nil {
			return err
		}
		draft.Proxy = p
	}

	acct, err := store.Add(draft)
	if err != nil {
		return err
	}
	fmt.Printf("added account %s (%s)\n", acct.Login, acct.ID)
	return nil
}

func accountsList(store *secrets.Store) error {
	accounts, err := store.Load()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("no accounts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tLOGIN\tPROXY\tPAYMENT\tSESSION\tCREATED")
	for i, a := range accounts {
		proxy := "-"
		if a.Proxy != nil {
			proxy = fmt.Sprintf("%s:%d", a.Proxy.Host, a.Proxy.Port)
		}
		payment := a.PaymentLabel
		if payment == "" {
			payment = "-"
		}
		session := "-"
		if a.SessionFile != "" {
			session = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, a.Login, proxy, payment, session, a.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func accountsShow(store *secrets.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("accounts show: missing <position|login>")
	}
	a, err := store.FindByIdentifier(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("id:       %s\n", a.ID)
	fmt.Printf("login:    %s\n", a.Login)
	if a.Proxy != nil {
		fmt.Printf("proxy:    %s:%d\n", a.Proxy.Host, a.Proxy.Port)
		if a.Proxy.Username != "" {
			fmt.Printf("proxy user: %s\n", a.Proxy.Username)
		}
	}
	if a.PaymentLabel != "" {
		fmt.Printf("payment:  %s\n", a.PaymentLabel)
	}
	fmt.Printf("created:  %s\n", a.CreatedAt.Format("2006-01-02 15:04:05"))
	if a.LastLoginAt != nil {
		fmt.Printf("last login: %s\n", a.LastLoginAt.Format("2006-01-02 15:04:05"))
	}
	if a.SessionFile != "" {
		fmt.Printf("session:  %s\n", a.SessionFile)
	}
	return nil
}

func accountsUpdate(store *secrets.Store, args []string) error {
	pos, flags, err := kvFlags(args)
	if err != nil {
		return err
	}
	if len(pos) < 1 {
		return errors.New("accounts update: missing <position|login>")
	}
	a, err := store.FindByIdentifier(pos[0])
	if err != nil {
		return err
	}

	var patch secrets.Patch
	if v, ok := flags["login"]; ok {
		patch.Login = &v
	}
	if v, ok := flags["payment"]; ok {
		patch.PaymentLabel = &v
	}
	if spec, ok := flags["proxy"]; ok {
		p, err := parseProxy(spec, flags["proxy-user"], flags["proxy-pass"])
		if err != nil {
			return err
		}
		patch.Proxy = p
	}

	if err := store.Update(a.ID, patch); err != nil {
		return err
	}
	fmt.Printf("updated account %s\n", a.Login)
	return nil
}

func accountsRemove(store *secrets.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("accounts remove: missing <position|login>")
	}
	a, err := store.FindByIdentifier(args[0])
	if err != nil {
		return err
	}
	if err := store.Remove(a.ID); err != nil {
		return err
	}
	fmt.Printf("removed account %s\n", a.Login)
	return nil
}

func cmdHistory(storeDir string, args []string) error {
	_, flags, err := kvFlags(args)
	if err != nil {
		return err
	}
	n := 20
	if v := flags["n"]; v != "" {
		n, err = strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("history: bad -n %q", v)
		}
	}

	log, err := history.Open(filepath.Join(storeDir, "restock-history.db"))
	if err != nil {
		return err
	}
	defer log.Close()

	entries, err := log.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no transitions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tTITLE\tPRICE\tTRANSITION\tURL")
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = "-"
		}
		price := e.Price
		if price == "" {
			price = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s->%s\t%s\n",
			e.At.Format("2006-01-02 15:04"), e.Kind, title, price,
			e.PrevStatus, e.NewStatus, e.URL)
	}
	return w.Flush()
}
