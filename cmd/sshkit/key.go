package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ruffel/sshkit/engine"
	"github.com/ruffel/sshkit/internal/sshkey"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate and inspect private keys",
	}

	cmd.AddCommand(newKeyGenCmd(), newKeyShowCmd())

	return cmd
}

func newKeyGenCmd() *cobra.Command {
	var (
		kind    string
		bits    int
		comment string
		encrypt bool
	)

	cmd := &cobra.Command{
		Use:   "gen output-file",
		Short: "Generate a key pair in OpenSSH format",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			kt, err := engine.ParseKeyType(kind)
			if err != nil {
				return err
			}

			var passphrase []byte

			if encrypt {
				pw, err := prompt("Passphrase: ")
				if err != nil {
					return err
				}

				again, err := prompt("Repeat passphrase: ")
				if err != nil {
					return err
				}

				if pw != again {
					return errors.New("passphrases do not match")
				}

				passphrase = []byte(pw)
			}

			k, err := sshkey.Generate(kt, bits)
			if err != nil {
				return err
			}
			defer k.Free()

			data, err := k.MarshalPEM(comment, passphrase)
			if err != nil {
				return err
			}

			out := args[0]
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}

			pub := k.AuthorizedKey()
			if comment != "" {
				pub = append(pub, ' ')
				pub = append(pub, comment...)
			}

			pub = append(pub, '\n')

			if err := os.WriteFile(out+".pub", pub, 0o644); err != nil { //nolint:gosec // public keys are world readable
				return err
			}

			fmt.Println(okStyle.Render("wrote " + out + " and " + out + ".pub"))
			printField("type", k.Type())
			printField("fingerprint", k.Fingerprint())

			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&kind, "type", "t", string(engine.KeyEd25519), "Key type: ed25519, rsa or ecdsa")
	fl.IntVarP(&bits, "bits", "b", 0, "RSA modulus or ECDSA curve size (0 for the default)")
	fl.StringVarP(&comment, "comment", "C", "", "Comment stored with the key")
	fl.BoolVar(&encrypt, "encrypt", false, "Prompt for a passphrase to encrypt the key")

	return cmd
}

func newKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show key-file",
		Short: "Print the public key and fingerprint of a private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			k, err := sshkey.Import(data, nil)

			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				pw, perr := prompt("Passphrase for " + args[0] + ": ")
				if perr != nil {
					return perr
				}

				k, err = sshkey.Import(data, []byte(pw))
			}

			if err != nil {
				return err
			}
			defer k.Free()

			printField("type", k.Type())
			printField("fingerprint", k.Fingerprint())
			fmt.Println(string(k.AuthorizedKey()))

			return nil
		},
	}
}
