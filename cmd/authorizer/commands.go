package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/dpup/authorizer"
	"github.com/dpup/authorizer/errors"
	"github.com/dpup/authorizer/logging"
	"github.com/dpup/authorizer/pwdauth"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile, envFile string

	root := &cobra.Command{
		Use:           "authorizer",
		Short:         "OAuth 2.0 authorization server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFile, envFile)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Additional YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before config")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFile, envFile)
		},
	})
	root.AddCommand(newHashCmd())
	return root
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [secret]",
		Short: "Print a bcrypt hash for use as a hashedSecret or hashedPassword",
		Long: `Print a bcrypt hash of a client secret or account password. The secret is
read from stdin when not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretArg(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			h, err := pwdauth.DefaultHasher.Generate([]byte(secret))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(h))
			return err
		},
	}
}

func secretArg(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("no secret given")
	}
	return secret, nil
}

func serve(ctx context.Context, configFile, envFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.WrapPrefix(err, "loading "+envFile, 0)
	}
	if configFile != "" {
		if err := authorizer.LoadConfigFile(configFile); err != nil {
			return err
		}
	}
	authorizer.ConfigDefaults()

	logger := logging.NewLogger(authorizer.ConfigString("logging.format"))
	ctx = logging.With(ctx, logger)
	for _, w := range authorizer.ValidateConfigKeys() {
		logging.Warnw(ctx, "config warning", "warning", w)
	}
	if errs := authorizer.ValidateConfig(); len(errs) > 0 {
		return errors.New(authorizer.FormatValidationErrors(errs))
	}

	st, err := authorizer.StorageFromConfig(ctx)
	if err != nil {
		return err
	}
	clients, err := authorizer.ClientsFromConfig()
	if err != nil {
		return err
	}
	if err := authorizer.BootstrapClients(ctx, st.OAuth, clients); err != nil {
		return err
	}
	accounts, err := authorizer.AccountsFromConfig()
	if err != nil {
		return err
	}

	opts := []authorizer.ServerOption{
		authorizer.WithContext(ctx),
		authorizer.WithLogger(logger),
		authorizer.WithStorage(st.OAuth),
		authorizer.WithRecordStore(st.Records),
	}
	if len(accounts) > 0 {
		opts = append(opts, authorizer.WithAccounts(accounts))
	} else {
		if authorizer.ConfigString("oauth.authenticationEndpoint") == authorizer.LoginPath {
			return errors.Mark(authorizer.ErrNoLoginHandler, 0)
		}
		logging.Warnw(ctx, "no accounts configured, login and the password grant are disabled")
	}
	return authorizer.New(opts...).Start()
}
