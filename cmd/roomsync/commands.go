package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"github.com/urfave/cli/v3"

	"github.com/njoerd114/roomsync/internal/model"
	"github.com/njoerd114/roomsync/internal/schedule"
	"github.com/njoerd114/roomsync/internal/setup"
	syncp "github.com/njoerd114/roomsync/internal/sync"
)

// shutdownTimeout bounds how long the supervisor waits for the scheduler to
// finish an in-flight run after a signal.
const shutdownTimeout = 30 * time.Second

func runSetup(ctx context.Context, cmd *cli.Command) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	wiz := setup.NewWizard(os.Stdin, os.Stdout, cmd.String("config"), logger)
	return wiz.Run(ctx)
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	sched, err := schedule.New(a.cfg.Sync.Schedule, a.cfg.RunOnStartup(), a.cfg.RetryPolicy(), orch, a.store.Directory(), a.log)
	if err != nil {
		return err
	}

	handler := &sutureslog.Handler{Logger: a.log}
	sup := suture.New("roomsync", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   shutdownTimeout,
	})
	sup.Add(sched)

	a.log.Info("daemon starting",
		"schedule", a.cfg.Sync.Schedule,
		"run_on_startup", a.cfg.RunOnStartup(),
		"building_batch_size", a.cfg.Sync.BuildingBatchSize,
	)
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}

func runSyncOnce(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	rep, err := orch.Run(ctx)
	printReport(os.Stdout, rep)
	if aborted(err) {
		return fmt.Errorf("sync run aborted: %w", err)
	}
	return err
}

func printReport(w io.Writer, rep syncp.Report) {
	fmt.Fprintf(w, "Run %s finished in %s\n", rep.RunID, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Buildings: %d synced, %d skipped\n", rep.Synced(), rep.Skipped())
	fmt.Fprintf(w, "  Removed:   %d room(s), %d favourite(s)\n", rep.RoomsRemoved(), rep.FavoritesDeleted())
	if rep.IndexErr != nil {
		fmt.Fprintf(w, "  Index:     refresh failed: %v\n", rep.IndexErr)
	} else if len(rep.Outcomes) > 0 {
		fmt.Fprintf(w, "  Index:     %d room(s)\n", rep.IndexedRooms)
	}

	if rep.Skipped() == 0 {
		return
	}
	fmt.Fprintln(w, "  Skipped:")
	for _, o := range rep.Outcomes {
		if o.Status == syncp.StatusSkipped {
			fmt.Fprintf(w, "    %s: %s\n", o.Building.Email, o.Reason())
		}
	}
}

// roomView is the JSON shape of a room in command output.
type roomView struct {
	RoomEmail     string `json:"roomEmail"`
	RoomName      string `json:"roomName"`
	BuildingEmail string `json:"buildingEmail"`
	BuildingName  string `json:"buildingName"`
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	limit := int(cmd.Int("limit"))
	if limit <= 0 {
		limit = a.cfg.Search.ResultLimit
	}
	query := strings.Join(cmd.Args().Slice(), " ")

	rooms, err := a.index.Search(ctx, query, limit)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]roomView, 0, len(rooms))
		for _, r := range rooms {
			views = append(views, roomView{r.RoomEmail, r.RoomName, r.BuildingEmail, r.BuildingName})
		}
		return writeJSON(os.Stdout, views)
	}

	if len(rooms) == 0 {
		fmt.Println("No rooms found.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tEMAIL\tBUILDING")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.RoomName, r.RoomEmail, r.BuildingName)
	}
	return tw.Flush()
}

func runReindex(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.index.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d room(s).\n", n)
	return nil
}

func runFavoritesList(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	favs, err := a.store.Favorites().Get(ctx, cmd.String("user"), "")
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		views := make([]roomView, 0, len(favs))
		for _, f := range favs {
			views = append(views, roomView{f.RoomEmail, f.RoomName, f.BuildingEmail, f.BuildingName})
		}
		return writeJSON(os.Stdout, views)
	}
	printFavorites(os.Stdout, favs)
	return nil
}

func runFavoritesAdd(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	room, err := a.store.Directory().Get(ctx, cmd.String("building"), cmd.String("room"))
	if err != nil {
		return fmt.Errorf("looking up room %q: %w", cmd.String("room"), err)
	}

	favs, err := a.store.Favorites().Add(ctx, model.FavoriteRoom{
		UserID:        cmd.String("user"),
		RoomEmail:     room.RoomEmail,
		RoomName:      room.RoomName,
		BuildingName:  room.BuildingName,
		BuildingEmail: room.BuildingEmail,
	})
	if err != nil {
		return err
	}
	printFavorites(os.Stdout, favs)
	return nil
}

func runFavoritesClear(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.store.Favorites().DeleteAll(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d favourite(s).\n", n)
	return nil
}

func printFavorites(w io.Writer, favs []model.FavoriteRoom) {
	if len(favs) == 0 {
		fmt.Fprintln(w, "No favourites.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tEMAIL\tBUILDING")
	for _, f := range favs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.RoomName, f.RoomEmail, f.BuildingName)
	}
	_ = tw.Flush()
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := open(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Println("Roomsync Status")
	fmt.Println("───────────────")
	fmt.Printf("  Config:    %s\n", a.cfgPath)
	fmt.Printf("  Tenant:    %s\n", a.cfg.Graph.TenantID)
	fmt.Printf("  Storage:   %s\n", a.cfg.Storage.Path)

	empty, err := a.store.Directory().IsEmpty(ctx)
	switch {
	case err != nil:
		fmt.Printf("  Rooms:     unknown (%v)\n", err)
	case empty:
		fmt.Println("  Rooms:     none yet, the daemon syncs at startup")
	default:
		fmt.Println("  Rooms:     populated")
	}

	at, n, err := a.index.LastRefresh(ctx)
	switch {
	case err != nil:
		fmt.Printf("  Index:     %s (%v)\n", a.cfg.Search.Path, err)
	case at.IsZero():
		fmt.Printf("  Index:     %s (never refreshed)\n", a.cfg.Search.Path)
	default:
		fmt.Printf("  Index:     %s (%d rooms, refreshed %s)\n", a.cfg.Search.Path, n, at.Local().Format(time.RFC1123))
	}

	next, err := schedule.Parse(a.cfg.Sync.Schedule)
	if err == nil {
		fmt.Printf("  Schedule:  %s (next %s)\n", a.cfg.Sync.Schedule, next.Next(time.Now()).Format(time.RFC1123))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
