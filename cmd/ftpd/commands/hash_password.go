package commands

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpd/membership"
)

// ErrPasswordMismatch is returned when the confirmation differs.
var ErrPasswordMismatch = errors.New("passwords do not match")

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password for the users section of the config",
	Long: `Prompt for a password and print its bcrypt hash, ready to paste as
password_hash of an entry under users:.`,
	RunE: runHashPassword,
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	password, err := promptPassword("Password", validatePassword)
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password", nil)
	if err != nil {
		return err
	}
	if password != confirm {
		return ErrPasswordMismatch
	}

	hash, err := membership.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func validatePassword(input string) error {
	switch {
	case input == "":
		return membership.ErrPasswordEmpty
	case len(input) > membership.MaxPasswordLength:
		return membership.ErrPasswordTooLong
	}
	return nil
}

func promptPassword(label string, validate promptui.ValidateFunc) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Mask:     '*',
		Validate: validate,
	}
	result, err := prompt.Run()
	if errors.Is(err, promptui.ErrInterrupt) {
		return "", errors.New("aborted")
	}
	return result, err
}
