package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Once runs a single evaluation pass and prints the summary as JSON,
// matching what the HTTP trigger returns.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store)

	summary, runErr := svc.RunPass(ctx)
	if summary != nil {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
	}
	return runErr
}
