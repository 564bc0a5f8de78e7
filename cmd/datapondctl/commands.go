package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// options are shared by every subcommand. Each flag can also be set as
// DATAPOND_<FLAG>, e.g. DATAPOND_SECRET.
type options struct {
	v *viper.Viper
	// dial is replaced in tests.
	dial func(target, token string) (*client.Client, error)
}

func newRootCommand() *cobra.Command {
	opts := &options{
		v: viper.New(),
		dial: func(target, token string) (*client.Client, error) {
			return client.Dial(target, token)
		},
	}
	return opts.rootCommand()
}

func (o *options) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "datapondctl",
		Short:         "Manage and use a datapond deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("controller", "localhost:50051", "controller gRPC address")
	flags.String("secret", "", "cluster token secret")
	flags.String("principal", "", "principal to mint a token for")
	flags.String("token", "", "pre-minted token; overrides --secret and --principal")
	flags.Duration("timeout", 5*time.Minute, "overall command timeout")

	o.v.SetEnvPrefix("DATAPOND")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()
	_ = o.v.BindPFlags(flags)

	root.AddCommand(
		o.tokenCommand(),
		o.registerCommand(),
		o.loadPackageCommand(),
		o.uploadCommand(),
		o.downloadCommand(),
		o.shardsCommand(),
	)
	return root
}

func (o *options) tokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a token for --principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := o.mint()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func (o *options) registerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register TENANT_ID",
		Short: "Register the tenant (controller principal only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Register(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered tenant %s\n", args[0])
				return nil
			})
		},
	}
}

func (o *options) loadPackageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load-package PATH",
		Short: "Load the shard provisioning package (controller principal only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.LoadProvisioningPackage(ctx, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded provisioning package (%d bytes)\n", len(data))
				return nil
			})
		},
	}
}

func (o *options) uploadCommand() *cobra.Command {
	var name, idempotencyKey string
	cmd := &cobra.Command{
		Use:   "upload USER_ID FILE_ID PATH",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if name == "" {
				name = st.Name()
			}

			return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.Upload(ctx, client.File{
					UserID:         args[0],
					ID:             args[1],
					Name:           name,
					Size:           st.Size(),
					IdempotencyKey: idempotencyKey,
				}, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name (defaults to the base name of PATH)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "key making retries of this upload safe")
	return cmd
}

func (o *options) downloadCommand() *cobra.Command {
	var shardID, output string
	cmd := &cobra.Command{
		Use:   "download USER_ID FILE_ID",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				name, n, err := c.Download(ctx, args[0], args[1], shardID, w)
				if err != nil {
					return err
				}
				if output != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "downloaded %s (%d bytes) to %s\n", name, n, output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&shardID, "shard", "", "shard holding the file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of stdout")
	_ = cmd.MarkFlagRequired("shard")
	return cmd
}

func (o *options) shardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shards USER_ID",
		Short: "List the shards assigned to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				user, err := c.UserShards(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"user_id":        user.UserID,
					"shard_ids":      user.ShardIDs,
					"full_shard_ids": user.FullShardIDs,
				})
			})
		},
	}
}

func (o *options) mint() (string, error) {
	principal := o.v.GetString("principal")
	if principal == "" {
		return "", fmt.Errorf("--principal is required")
	}
	signer, err := auth.NewSigner(o.v.GetString("secret"))
	if err != nil {
		return "", err
	}
	return signer.Mint(auth.Principal(principal))
}

func (o *options) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	token := o.v.GetString("token")
	if token == "" {
		var err error
		if token, err = o.mint(); err != nil {
			return err
		}
	}

	c, err := o.dial(o.v.GetString("controller"), token)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.v.GetDuration("timeout"))
	defer cancel()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
