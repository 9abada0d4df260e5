// Command authcli exercises the auth SDK from a terminal: log in, inspect the
// session, force a refresh, log out, or forget the device.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"leadpilot/authkit/internal/auth"
	"leadpilot/authkit/internal/config"
	"leadpilot/authkit/internal/credstore"
	"leadpilot/authkit/internal/logger"
	"leadpilot/authkit/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logger.New(cfg.LogLevel)
	defer func() { _ = zl.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("credential store: %v", err)
	}

	mgr := auth.New(cfg, store, nil, nil, zl)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout())
	defer cancel()
	mgr.Init(ctx)

	switch os.Args[1] {
	case "login":
		err = cmdLogin(ctx, mgr, os.Args[2:])
	case "status":
		err = cmdStatus(mgr)
	case "whoami":
		err = cmdWhoami(ctx, mgr)
	case "refresh":
		err = cmdRefresh(ctx, mgr)
	case "logout":
		err = mgr.Logout(ctx)
	case "forget-device":
		err = mgr.ForgetDevice(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: authcli <command>

commands:
  login [-email addr]   authenticate and store the session
  status                show session state
  whoami                refetch and print the user profile
  refresh               force a token refresh
  logout                end the session
  forget-device         log out and rotate the device id`)
}

func openStore(cfg *config.Config) (credstore.Store, error) {
	switch cfg.CredStore {
	case "keyring":
		return credstore.NewKeyringStore(cfg.KeyringService), nil
	case "file":
		return credstore.NewFileStore(cfg.CredFile), nil
	case "memory":
		return credstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.CredStore)
	}
}

func cmdLogin(ctx context.Context, mgr *auth.Manager, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	if *email == "" {
		fmt.Print("email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		*email = strings.TrimSpace(line)
	}
	fmt.Print("password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return err
	}

	err = mgr.Login(ctx, *email, string(pw))

	var limit *pipeline.SessionLimitError
	if errors.As(err, &limit) {
		return resolveLimit(ctx, mgr, reader, limit, *email, string(pw))
	}
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s (session %s)\n", *email, mgr.SessionID())
	return nil
}

// resolveLimit lets the user pick one of the active sessions to terminate, then
// retries the login with the management token flow.
func resolveLimit(ctx context.Context, mgr *auth.Manager, reader *bufio.Reader, limit *pipeline.SessionLimitError, email, password string) error {
	fmt.Println("session limit reached; active sessions:")
	for i, s := range limit.Sessions {
		fmt.Printf("  [%d] %s on device %s (%s), last seen %s\n",
			i+1, s.ID, s.DeviceID, s.ClientType, s.LastSeenAt.Format(time.RFC822))
	}
	fmt.Print("terminate which session? ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	var idx int
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &idx); err != nil || idx < 1 || idx > len(limit.Sessions) {
		return errors.New("invalid selection")
	}
	return mgr.ResolveSessionLimit(ctx, limit, limit.Sessions[idx-1].ID, email, password)
}

func cmdStatus(mgr *auth.Manager) error {
	fmt.Println("state:    ", mgr.State())
	fmt.Println("device id:", mgr.DeviceID())
	if u := mgr.CurrentUser(); u != nil {
		fmt.Println("user:     ", u.Email, "("+string(u.Role)+")")
	}
	if o := mgr.CurrentOrganization(); o != nil {
		fmt.Println("org:      ", o.Name, "["+o.Plan+"]")
	}
	if sid := mgr.SessionID(); sid != "" {
		fmt.Println("session:  ", sid)
	}
	if t, ok := mgr.LastActivity(); ok {
		fmt.Println("last call:", t.Format(time.RFC822))
	}
	return nil
}

func cmdWhoami(ctx context.Context, mgr *auth.Manager) error {
	u, err := mgr.ReloadUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s) in org %s\n", u.Email, u.Role, u.OrganizationID)
	return nil
}

func cmdRefresh(ctx context.Context, mgr *auth.Manager) error {
	if err := mgr.Refresh(ctx); err != nil {
		return err
	}
	fmt.Println("token pair rotated, session", mgr.SessionID())
	return nil
}
