package cli

import (
	"context"
	"fmt"
	"os"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login prompts for credentials, authenticates against the CMS and saves
// the returned session token. A successful login also kicks the queue so
// uploads held back by an expired session start moving again.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}

	token, err := a.client.Login(ctx, email, string(password))
	if err != nil {
		printlnFn("Login failed:", err.Error())
		return err
	}
	if err := a.tokens.Save(token); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	a.userName = email
	printlnFn("Logged in.")
	a.queue.Kick()
	return nil
}

// Logout discards the saved session token. Queued uploads stay queued; they
// resume after the next login.
func (a *App) Logout(ctx context.Context) error {
	if err := a.tokens.Clear(); err != nil {
		return err
	}
	a.userName = ""
	printlnFn("Logged out.")
	return nil
}
