package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/njoerd114/roomsync/internal/config"
	"github.com/njoerd114/roomsync/internal/model"
	"github.com/njoerd114/roomsync/internal/retry"
	"github.com/njoerd114/roomsync/internal/schedule"
)

// SecretEnv is the variable the written config reads the client secret from
// when the user keeps it out of the file.
const SecretEnv = "ROOMSYNC_CLIENT_SECRET"

// maxListedBuildings caps how many discovered buildings are echoed back.
const maxListedBuildings = 5

// Wizard guides the user through first-run configuration.
type Wizard struct {
	prompt  *Prompter
	logger  *slog.Logger
	w       io.Writer
	cfgPath string

	// graph seeds endpoint overrides for verification and the written file.
	graph config.GraphConfig

	verify func(ctx context.Context, g config.GraphConfig) ([]model.Building, error)
}

// NewWizard creates a Wizard that writes its result to cfgPath.
func NewWizard(r io.Reader, w io.Writer, cfgPath string, logger *slog.Logger) *Wizard {
	wiz := &Wizard{
		prompt:  NewPrompter(r, w),
		logger:  logger,
		w:       w,
		cfgPath: cfgPath,
	}
	wiz.verify = func(ctx context.Context, g config.GraphConfig) ([]model.Building, error) {
		return Verify(ctx, g, logger)
	}
	return wiz
}

// Run executes the wizard: app registration, a live check against the places
// API, sync settings, then the config file. Declining to overwrite an
// existing config is not an error.
func (wiz *Wizard) Run(ctx context.Context) error {
	fmt.Fprintf(wiz.w, "\nWelcome to roomsync setup!\n")
	fmt.Fprintf(wiz.w, "You need an Entra ID app registration with the Place.Read.All application permission.\n\n")

	if _, err := os.Stat(wiz.cfgPath); err == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.cfgPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return nil
		}
		fmt.Fprintln(wiz.w)
	}

	// Step 1: app registration.
	fmt.Fprintf(wiz.w, "Step 1/4: App Registration\n")
	g := wiz.graph
	g.TenantID = wiz.prompt.String("Tenant ID or domain", "")
	g.ClientID = wiz.prompt.String("Application (client) ID", "")
	g.ClientSecret = wiz.prompt.Secret("Client secret")
	fmt.Fprintln(wiz.w)

	// Step 2: live check.
	fmt.Fprintf(wiz.w, "Step 2/4: Checking access to the places API...")
	buildings, err := wiz.verify(ctx, g)
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("verifying app registration: %w", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n")
	wiz.listBuildings(buildings)

	// Step 3: sync settings.
	fmt.Fprintf(wiz.w, "Step 3/4: Sync Settings\n")
	sc, err := wiz.syncSettings()
	if err != nil {
		return err
	}
	fmt.Fprintln(wiz.w)

	// Step 4: write config.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")
	if !wiz.prompt.Confirm("Store the client secret in the config file?", false) {
		g.ClientSecret = "${" + SecretEnv + "}"
		fmt.Fprintf(wiz.w, "  Set %s in the environment or in a .env file next to roomsync.\n", SecretEnv)
	}

	cfg := &config.Config{Graph: g, Sync: sc}
	if err := cfg.Write(wiz.cfgPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.cfgPath)
	fmt.Fprintf(wiz.w, "Run 'roomsync sync-once' to fill the directory, or 'roomsync daemon' to keep it in sync.\n")

	wiz.logger.Debug("setup complete", "config", wiz.cfgPath, "buildings", len(buildings))
	return nil
}

func (wiz *Wizard) listBuildings(buildings []model.Building) {
	if len(buildings) == 0 {
		fmt.Fprintf(wiz.w, "  No buildings found yet. Sync runs abort until a room list exists.\n\n")
		return
	}
	fmt.Fprintf(wiz.w, "  Found %d building(s):\n", len(buildings))
	for i, b := range buildings {
		if i == maxListedBuildings {
			fmt.Fprintf(wiz.w, "    ... and %d more\n", len(buildings)-maxListedBuildings)
			break
		}
		name := b.DisplayName
		if name == "" {
			name = b.Email
		}
		fmt.Fprintf(wiz.w, "    - %s <%s>\n", name, b.Email)
	}
	fmt.Fprintln(wiz.w)
}

func (wiz *Wizard) syncSettings() (config.SyncConfig, error) {
	var sc config.SyncConfig

	expr, err := wiz.prompt.Validated("Sync schedule (cron with seconds)", schedule.DefaultSchedule, func(s string) error {
		_, err := schedule.Parse(s)
		return err
	})
	if err != nil {
		return sc, err
	}
	if expr != schedule.DefaultSchedule {
		sc.Schedule = expr
	}

	width, err := wiz.prompt.Int("Buildings synced in parallel", 10, 1, 100)
	if err != nil {
		return sc, err
	}
	if width != 10 {
		sc.BuildingBatchSize = width
	}

	strategies := []string{retry.DecorrelatedJitter.String(), retry.Exponential.String()}
	i, err := wiz.prompt.Select("Retry backoff", strategies)
	if err != nil {
		return sc, err
	}
	if i != 0 {
		sc.Retry.Strategy = strategies[i]
	}

	if !wiz.prompt.Confirm("Sync immediately whenever the daemon starts?", true) {
		off := false
		sc.RunOnStartup = &off
	}
	return sc, nil
}
