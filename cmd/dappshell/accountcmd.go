package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"strings"
	"unicode/utf8"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/accounts/keystore"
	"github.com/Aurorachain/dappshell/cmd/utils"
	"github.com/Aurorachain/dappshell/console"
	"github.com/Aurorachain/dappshell/node"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"
)

const (
	minPasswordLength = 6

	createdNickname  = "dappshell"
	importedNickname = "Imported Wallet"
)

var (
	backupFlag = cli.StringFlag{
		Name:  "backup",
		Usage: "File the keystore backup of a new account is written to (default wallet-<address>.json)",
	}

	accountCommand = cli.Command{
		Name:     "account",
		Usage:    "Manage accounts",
		Category: "ACCOUNT COMMANDS",
		Description: `

Manage accounts, list all existing accounts, import a keystore backup into a
new account, create a new account, remove an account or choose the account
applications see.

Every account is stored as a Web3 Secret Storage keystore. Creating an
account writes a backup copy of its keystore; removing one requires that
backup to be presented again.

Make sure you remember the password you gave when creating a new account.
Without it you are not able to unlock your account.`,
		Subcommands: []cli.Command{
			{
				Name:   "list",
				Usage:  "Print summary of existing accounts",
				Action: utils.MigrateFlags(accountList),
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
				},
				Description: `
Print a short summary of all accounts. The active account is marked with *.`,
			},
			{
				Name:   "new",
				Usage:  "Create a new account",
				Action: utils.MigrateFlags(accountCreate),
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
					utils.NetworkFlag,
					utils.TestnetFlag,
					utils.LightKDFFlag,
					utils.PasswordFileFlag,
					backupFlag,
				},
				Description: `
    dappshell account new

Creates a new account, writes the backup copy of its keystore and prints the
address. The password must be at least 6 characters long and is asked twice.

For non-interactive use the password can be specified with the --password
flag. Note, this is meant to be used for testing only, it is a bad idea to
save your password to file or expose in any other way.`,
			},
			{
				Name:      "import",
				Usage:     "Import a keystore backup into a new account",
				Action:    utils.MigrateFlags(accountImport),
				ArgsUsage: "<keyFile>",
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
					utils.NetworkFlag,
					utils.TestnetFlag,
					utils.PasswordFileFlag,
				},
				Description: `
    dappshell account import <keyfile>

Imports a Web3 Secret Storage keystore and creates a new account from it.
The keystore is decrypted with the password you supply to prove ownership and
stored unchanged.`,
			},
			{
				Name:      "remove",
				Usage:     "Remove an account",
				Action:    utils.MigrateFlags(accountRemove),
				ArgsUsage: "<address|nickname> <backupFile>",
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
				},
				Description: `
    dappshell account remove <address|nickname> <backupFile>

Removes an account. The backup copy of the account's keystore must be given
and must match the stored keystore exactly.`,
			},
			{
				Name:      "use",
				Usage:     "Make an account the active account",
				Action:    utils.MigrateFlags(accountUse),
				ArgsUsage: "<address|nickname>",
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
				},
			},
			{
				Name:      "rename",
				Usage:     "Change the nickname of an account",
				Action:    utils.MigrateFlags(accountRename),
				ArgsUsage: "<address|nickname> <nickname>",
				Flags: []cli.Flag{
					utils.DataDirFlag,
					utils.StoreFlag,
				},
			},
		},
	}
)

// openAccounts opens the account registry of the configured data directory
// without connecting a chain backend.
func openAccounts(ctx *cli.Context) (*node.Node, *accounts.Registry, *keystore.KeyStore) {
	stack, _ := makeConfigNode(ctx, nil)
	reg, ks, err := stack.OpenAccounts()
	if err != nil {
		utils.Fatalf("Failed to open accounts: %v", err)
	}
	return stack, reg, ks
}

// findAccount resolves an address or a nickname.
func findAccount(reg *accounts.Registry, key string) *accounts.Account {
	if common.IsHexAddress(key) {
		if a := reg.Get(common.HexToAddress(key)); a != nil {
			return a
		}
	}
	for _, a := range reg.List() {
		if a.Nickname() == key {
			return a
		}
	}
	utils.Fatalf("Unknown account %q", key)
	return nil
}

func accountList(ctx *cli.Context) error {
	stack, reg, _ := openAccounts(ctx)
	defer stack.Close()

	active := reg.Active()
	for index, a := range reg.List() {
		marker := " "
		if a == active {
			marker = "*"
		}
		fmt.Printf("Account #%d:%s{%x} %s (%s)\n", index, marker, a.Address, a.Nickname(), a.Method)
	}
	return nil
}

// getPassword retrieves the password associated with an account, either
// fetched from a list of preloaded passwords, or requested interactively
// from the user.
func getPassword(prompt string, confirmation bool, i int, passwords []string) string {
	if len(passwords) > 0 {
		if i < len(passwords) {
			return passwords[i]
		}
		return passwords[len(passwords)-1]
	}
	if prompt != "" {
		fmt.Println(prompt)
	}
	password, err := console.Stdin().PromptPassword("Password: ")
	if err != nil {
		utils.Fatalf("Failed to read password: %v", err)
	}
	if confirmation {
		confirm, err := console.Stdin().PromptPassword("Repeat password: ")
		if err != nil {
			utils.Fatalf("Failed to read password confirmation: %v", err)
		}
		if password != confirm {
			utils.Fatalf("Passwords do not match")
		}
	}
	return password
}

// accountCreate creates a new account and writes its keystore backup.
func accountCreate(ctx *cli.Context) error {
	stack, reg, ks := openAccounts(ctx)
	defer stack.Close()

	password := getPassword("Your new account is locked with a password. Please give a password. Do not forget this password.", true, 0, utils.MakePasswordList(ctx))
	if utf8.RuneCountInString(password) < minPasswordLength {
		utils.Fatalf("Your password is too short, it must be at least %d characters long", minPasswordLength)
	}

	w, err := ks.NewWallet()
	if err != nil {
		utils.Fatalf("Failed to generate key: %v", err)
	}
	blob, err := ks.Encrypt(context.Background(), w, password, nil)
	if err != nil {
		w.Destroy()
		utils.Fatalf("Failed to encrypt key: %v", err)
	}
	backup := ctx.String(backupFlag.Name)
	if backup == "" {
		backup = fmt.Sprintf("wallet-%x.json", w.Address())
	}
	if err := ioutil.WriteFile(backup, blob, 0600); err != nil {
		w.Destroy()
		utils.Fatalf("Failed to write keystore backup: %v", err)
	}

	nickname := reg.UniqueNickname(createdNickname)
	a, err := reg.Create(blob, w, accounts.MethodCreated)
	if err != nil {
		utils.Fatalf("Failed to create account: %v", err)
	}
	if err := reg.SetNickname(a, nickname); err != nil {
		utils.Fatalf("Failed to name account: %v", err)
	}
	fmt.Printf("Address: {%x}\n", a.Address)
	fmt.Printf("Backup: %s\n", backup)
	return nil
}

// accountImport creates an account from an existing keystore.
func accountImport(ctx *cli.Context) error {
	keyfile := ctx.Args().First()
	if len(keyfile) == 0 {
		utils.Fatalf("keyfile must be given as argument")
	}
	blob, err := ioutil.ReadFile(keyfile)
	if err != nil {
		utils.Fatalf("Could not read keyfile: %v", err)
	}
	blob = bytes.TrimSpace(blob)
	if !keystore.IsValid(blob) {
		utils.Fatalf("%s is not a keystore backup", keyfile)
	}

	stack, reg, ks := openAccounts(ctx)
	defer stack.Close()

	password := getPassword("", false, 0, utils.MakePasswordList(ctx))
	signer, err := ks.Decrypt(context.Background(), blob, password, nil)
	switch {
	case errors.Cause(err) == accounts.ErrInvalidPassword:
		utils.Fatalf("Incorrect password")
	case err != nil:
		utils.Fatalf("Invalid keystore: %v", err)
	}

	nickname := reg.UniqueNickname(importedNickname)
	a, err := reg.Create(blob, signer, accounts.MethodImported)
	if err != nil {
		signer.Destroy()
		utils.Fatalf("Failed to import account: %v", err)
	}
	if err := reg.SetNickname(a, nickname); err != nil {
		utils.Fatalf("Failed to name account: %v", err)
	}
	fmt.Printf("Address: {%x}\n", a.Address)
	return nil
}

// accountRemove forgets an account after checking the presented backup.
func accountRemove(ctx *cli.Context) error {
	if len(ctx.Args()) != 2 {
		utils.Fatalf("Usage: dappshell account remove <address|nickname> <backupFile>")
	}
	backup, err := ioutil.ReadFile(ctx.Args().Get(1))
	if err != nil {
		utils.Fatalf("Could not read backup: %v", err)
	}

	stack, reg, _ := openAccounts(ctx)
	defer stack.Close()

	a := findAccount(reg, ctx.Args().First())
	if !bytes.Equal(bytes.TrimSpace(backup), a.Keystore) {
		utils.Fatalf("Incorrect keystore backup provided, please try again")
	}
	if err := reg.Remove(a); err != nil {
		utils.Fatalf("Failed to remove account: %v", err)
	}
	fmt.Println("Account successfully removed.")
	return nil
}

func accountUse(ctx *cli.Context) error {
	if len(ctx.Args()) != 1 {
		utils.Fatalf("Usage: dappshell account use <address|nickname>")
	}
	stack, reg, _ := openAccounts(ctx)
	defer stack.Close()

	a := findAccount(reg, ctx.Args().First())
	if err := reg.SetActive(a); err != nil {
		utils.Fatalf("Failed to switch account: %v", err)
	}
	fmt.Printf("Active account: {%x} %s\n", a.Address, a.Nickname())
	return nil
}

func accountRename(ctx *cli.Context) error {
	if len(ctx.Args()) != 2 {
		utils.Fatalf("Usage: dappshell account rename <address|nickname> <nickname>")
	}
	stack, reg, _ := openAccounts(ctx)
	defer stack.Close()

	a := findAccount(reg, ctx.Args().First())
	nickname := strings.TrimSpace(ctx.Args().Get(1))
	if err := reg.SetNickname(a, nickname); err != nil {
		utils.Fatalf("Failed to rename account: %v", err)
	}
	fmt.Printf("Account {%x} is now %s\n", a.Address, nickname)
	return nil
}
