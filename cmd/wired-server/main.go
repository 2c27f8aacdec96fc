// Command wired-server runs the Wired control server and carries the
// offline account/group/banlist/board administration subcommands a
// deployment needs before any client has ever logged in.
//
// Grounded on the teacher's cli.go (each subcommand opens its own store
// handle directly, reports plainly to stdout/stderr, exits non-zero on
// error) generalized from its hand-rolled os.Args switch to a
// github.com/spf13/cobra command tree (§2.1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wired/internal/accounts"
	"wired/internal/banlist"
	"wired/internal/boards"
	"wired/internal/config"
	"wired/internal/server"
)

// version is stamped at build time in a real release pipeline; kept as a
// plain constant here the way the teacher's Version is declared in
// version.go.
const version = "0.1.0"

var (
	configPath string
	dataDir    string
)

func main() {
	root := &cobra.Command{
		Use:   "wired-server",
		Short: "Wired control server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "wired.toml", "path to the server TOML config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory override (defaults to the config file's data_dir)")

	root.AddCommand(
		newServeCmd(),
		newVersionCmd(),
		newAccountCmd(),
		newGroupCmd(),
		newBanlistCmd(),
		newBoardCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("wired-server %s\n", version)
			return nil
		},
	}
}

// loadConfig reads the configured TOML file and applies the --data-dir
// override every subcommand shares.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	var port int
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Address = []string{addr}
			}
			if port != 0 {
				cfg.Port = port
			}
			if adminAddr != "" {
				cfg.AdminAddr = adminAddr
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			s, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("start server: %w", err)
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.AdminAddr != "" {
				admin := server.NewAdminAPI(s)
				go admin.Run(ctx, cfg.AdminAddr)
				logger.Info("[admin] listening", "addr", cfg.AdminAddr)
			}

			logger.Info("[server] starting", "name", cfg.Name, "port", cfg.Port)
			if err := s.Serve(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("[server] stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override (host only; port comes from --port/config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port override")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP API listen address (empty to disable)")
	return cmd
}

func openAccounts() (*accounts.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return accounts.Open(filepath.Join(cfg.DataDir, "accounts"))
}

func openBanlist() (*banlist.Banlist, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return banlist.Open(filepath.Join(cfg.DataDir, "banlist"))
}

func openBoards() (*boards.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return boards.Open(filepath.Join(cfg.DataDir, "boards"))
}

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage user accounts"}

	var fullName, group, password string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			a := &accounts.Account{
				Name:         args[0],
				FullName:     fullName,
				Group:        group,
				PasswordHash: accounts.HashPassword(password),
				Privileges:   make(map[string]bool),
				Limits:       make(map[string]int64),
			}
			if err := st.CreateUser(a); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Printf("created user %q\n", a.Name)
			return nil
		},
	}
	create.Flags().StringVar(&fullName, "full-name", "", "display name")
	create.Flags().StringVar(&group, "group", "", "primary group")
	create.Flags().StringVar(&password, "password", "", "initial password")

	passwd := &cobra.Command{
		Use:   "passwd <name> <password>",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			if err := st.ChangePassword(args[0], accounts.HashPassword(args[1])); err != nil {
				return fmt.Errorf("change password: %w", err)
			}
			fmt.Printf("password changed for %q\n", args[0])
			return nil
		},
	}

	var editGroup string
	edit := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit a user's profile fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			err = st.EditUser(args[0], func(a *accounts.Account) {
				if editGroup != "" {
					a.Group = editGroup
				}
			})
			if err != nil {
				return fmt.Errorf("edit user: %w", err)
			}
			fmt.Printf("edited user %q\n", args[0])
			return nil
		},
	}
	edit.Flags().StringVar(&editGroup, "group", "", "new primary group")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			if err := st.DeleteUser(args[0]); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
			fmt.Printf("deleted user %q\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			for _, a := range st.ListUsers() {
				fmt.Printf("%s\t%s\t%s\n", a.Name, a.FullName, a.Group)
			}
			return nil
		},
	}

	cmd.AddCommand(create, passwd, edit, del, list)
	return cmd
}

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Manage account groups"}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			g := &accounts.Account{Name: args[0], IsGroup: true, Privileges: make(map[string]bool), Limits: make(map[string]int64)}
			if err := st.CreateGroup(g); err != nil {
				return fmt.Errorf("create group: %w", err)
			}
			fmt.Printf("created group %q\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			if err := st.DeleteGroup(args[0]); err != nil {
				return fmt.Errorf("delete group: %w", err)
			}
			fmt.Printf("deleted group %q\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every group",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAccounts()
			if err != nil {
				return err
			}
			for _, g := range st.ListGroups() {
				fmt.Println(g.Name)
			}
			return nil
		},
	}

	cmd.AddCommand(create, del, list)
	return cmd
}

func newBanlistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "banlist", Short: "Manage the IP banlist"}

	add := &cobra.Command{
		Use:   "add <pattern>",
		Short: "Add a permanent ban pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBanlist()
			if err != nil {
				return err
			}
			if err := b.AddBan(args[0], time.Time{}); err != nil {
				return fmt.Errorf("add ban: %w", err)
			}
			fmt.Printf("banned %q\n", args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <pattern>",
		Short: "Remove a ban pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBanlist()
			if err != nil {
				return err
			}
			if err := b.DeleteBan(args[0]); err != nil {
				return fmt.Errorf("remove ban: %w", err)
			}
			fmt.Printf("unbanned %q\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every ban pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBanlist()
			if err != nil {
				return err
			}
			permanent, timed := b.List()
			for _, p := range permanent {
				fmt.Printf("%s\tpermanent\n", p)
			}
			for p, expiry := range timed {
				fmt.Printf("%s\t%s\n", p, expiry)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newBoardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "board", Short: "Manage discussion boards"}

	create := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a discussion board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openBoards()
			if err != nil {
				return err
			}
			if err := st.AddBoard(args[0], boards.ACL{Mode: 0o644}); err != nil {
				return fmt.Errorf("create board: %w", err)
			}
			fmt.Printf("created board %q\n", args[0])
			return nil
		},
	}

	var owner, bgroup string
	var mode int
	setPerms := &cobra.Command{
		Use:   "set-permissions <path>",
		Short: "Set a board's owner/group/mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openBoards()
			if err != nil {
				return err
			}
			if err := st.SetPermissions(args[0], boards.ACL{Owner: owner, Group: bgroup, Mode: mode}); err != nil {
				return fmt.Errorf("set permissions: %w", err)
			}
			fmt.Printf("updated permissions for %q\n", args[0])
			return nil
		},
	}
	setPerms.Flags().StringVar(&owner, "owner", "", "owning account login")
	setPerms.Flags().StringVar(&bgroup, "group", "", "owning group")
	setPerms.Flags().IntVar(&mode, "mode", 0o644, "permission bitmask")

	cmd.AddCommand(create, setPerms)
	return cmd
}
