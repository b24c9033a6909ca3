package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

var rpcFlag = &cli.StringFlag{
	Name:  "rpc",
	Usage: "rpc url of the chain, defaults to [LEDGER] NetworkUrl of the repo config",
}

var walletCmd = &cli.Command{
	Name:  "wallet",
	Usage: "Manage wallets",
	Subcommands: []*cli.Command{
		walletNew,
		walletList,
		walletExport,
		walletImport,
		walletDelete,
		walletSign,
		walletVerify,
		walletSend,
	},
}

func openWallet(cctx *cli.Context) (*wallet.LocalWallet, error) {
	repo, err := repoPath(cctx)
	if err != nil {
		return nil, err
	}
	return wallet.SetupWallet(repo)
}

// rpcUrl prefers the flag over the repo config.
func rpcUrl(cctx *cli.Context) string {
	if url := cctx.String("rpc"); url != "" {
		return url
	}
	repo, err := repoPath(cctx)
	if err != nil {
		return ""
	}
	cfg, err := conf.LoadConfig(filepath.Join(repo, "config.toml"))
	if err != nil || cfg.LEDGER.Mode != conf.LedgerChain {
		return ""
	}
	return cfg.LEDGER.NetworkUrl
}

var walletNew = &cli.Command{
	Name:  "new",
	Usage: "Generate a new key",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		addr, err := localWallet.WalletNew(ctx)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var walletList = &cli.Command{
	Name:  "list",
	Usage: "List wallet address",
	Flags: []cli.Flag{rpcFlag},
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		balances, err := localWallet.WalletList(ctx, rpcUrl(cctx))
		if err != nil {
			return err
		}

		var data [][]string
		var rowColors []RowColor
		for i, b := range balances {
			data = append(data, []string{b.Address, b.Balance, strconv.FormatUint(b.Nonce, 10), b.Error})
			if b.Error != "" {
				rowColors = append(rowColors, RowColor{
					row:    i,
					column: []int{3},
					color:  []tablewriter.Colors{{tablewriter.Bold, tablewriter.FgRedColor}},
				})
			}
		}
		NewVisualTable([]string{"Address", "Balance", "Nonce", "Error"}, data, rowColors).Generate()
		return nil
	},
}

var walletExport = &cli.Command{
	Name:      "export",
	Usage:     "export keys",
	ArgsUsage: "[address]",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		if !cctx.Args().Present() {
			return fmt.Errorf("must specify key to export")
		}
		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		ki, err := localWallet.WalletExport(ctx, cctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(ki.PrivateKey)
		return nil
	},
}

var walletImport = &cli.Command{
	Name:      "import",
	Usage:     "import keys",
	ArgsUsage: "[<path> (optional, will read from stdin if omitted)]",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)

		var inpdata []byte
		if !cctx.Args().Present() || cctx.Args().First() == "-" {
			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Enter private key: ")
			indata, err := reader.ReadBytes('\n')
			if err != nil {
				return err
			}
			inpdata = indata
		} else {
			fdata, err := os.ReadFile(cctx.Args().First())
			if err != nil {
				return err
			}
			inpdata = fdata
		}

		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		ki := wallet.KeyInfo{PrivateKey: strings.TrimSpace(string(inpdata))}
		addr, err := localWallet.WalletImport(ctx, &ki)
		if err != nil {
			return err
		}
		color.Green("imported key %s successfully!", addr)
		return nil
	},
}

var walletDelete = &cli.Command{
	Name:      "delete",
	Usage:     "Delete an account from the wallet",
	ArgsUsage: "<address> ",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify address to delete")
		}
		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		return localWallet.WalletDelete(ctx, cctx.Args().First())
	},
}

var walletSign = &cli.Command{
	Name:      "sign",
	Usage:     "Sign a message",
	ArgsUsage: "<signing address> <Message>",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		if cctx.NArg() != 2 {
			return fmt.Errorf("must specify signing address and message to sign")
		}

		addr := cctx.Args().First()
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("failed to parse sign address")
		}
		msg := cctx.Args().Get(1)
		if strings.TrimSpace(msg) == "" {
			return fmt.Errorf("failed to parse message")
		}

		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		sig, err := localWallet.WalletSign(ctx, addr, []byte(msg))
		if err != nil {
			return err
		}
		fmt.Println(sig)
		return nil
	},
}

var walletVerify = &cli.Command{
	Name:      "verify",
	Usage:     "verify the signature of a message",
	ArgsUsage: "<signing address> <signature> <rawMessage>",
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		if cctx.NArg() != 3 {
			return fmt.Errorf("incorrect number of arguments, requires 3 parameters")
		}

		addr := cctx.Args().First()
		sigBytes, err := hexutil.Decode(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		messageData := cctx.Args().Get(2)
		if strings.TrimSpace(messageData) == "" {
			return fmt.Errorf("failed to get raw message")
		}

		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		pass, err := localWallet.WalletVerify(ctx, addr, sigBytes, messageData)
		if err != nil {
			return err
		}
		if pass {
			color.Green("true")
		} else {
			color.Red("false")
		}
		return nil
	},
}

var walletSend = &cli.Command{
	Name:      "send",
	Usage:     "Send funds between accounts",
	ArgsUsage: "[targetAddress] [amount]",
	Flags: []cli.Flag{
		rpcFlag,
		&cli.StringFlag{
			Name:     "from",
			Usage:    "specify the account to send funds from",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := reqContext(cctx)
		if cctx.NArg() != 2 {
			return fmt.Errorf("need two params: the target address and amount")
		}

		url := rpcUrl(cctx)
		if url == "" {
			return fmt.Errorf("no rpc url, pass --rpc or set [LEDGER] NetworkUrl")
		}
		from := cctx.String("from")
		to := cctx.Args().Get(0)
		if strings.TrimSpace(to) == "" {
			return fmt.Errorf("failed to parse target address: %s", to)
		}
		amount := cctx.Args().Get(1)
		if strings.TrimSpace(amount) == "" {
			return fmt.Errorf("failed to get amount")
		}

		localWallet, err := openWallet(cctx)
		if err != nil {
			return err
		}
		defer localWallet.Close()

		txHash, err := localWallet.WalletSend(ctx, url, from, to, amount)
		if err != nil {
			return err
		}
		fmt.Println(txHash)
		return nil
	},
}
