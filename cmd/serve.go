package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/minds/internal/bus"
	"github.com/nextlevelbuilder/minds/internal/config"
	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/driver"
	"github.com/nextlevelbuilder/minds/internal/gateway"
	"github.com/nextlevelbuilder/minds/internal/journal"
	"github.com/nextlevelbuilder/minds/internal/providers"
	"github.com/nextlevelbuilder/minds/internal/tools"
)

// defaultSystemPrompt is the base prompt shared by every team member;
// member prompts from team.yaml are appended per dialog.
const defaultSystemPrompt = `You work inside a team of agents. To call a teammate write a line
starting with "!?" followed by their mention, e.g. "!?@reviewer check this",
then the request on the following "!?" lines. Address "@human" to ask the
user a question and "@self" to think a problem through in a side dialog.
Use the reminder tool to pin facts you must not forget.`

func serveCmd() *cobra.Command {
	var newAgent string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		Long:  "Revives persisted dialogs from the store, watches .minds/team.yaml for roster changes, and serves dialog event streams over websocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(newAgent)
		},
	}
	cmd.Flags().StringVar(&newAgent, "new", "", "create a fresh root dialog for this agent at startup")
	return cmd
}

func runServe(newAgent string) error {
	cfg, err := loadEnvironment()
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reviveRoots(rt)

	if newAgent != "" {
		root, err := dialog.NewRoot(newAgent, "", rt.roster.DiligenceMax(newAgent), rt.store)
		if err != nil {
			return err
		}
		rt.registry.Register(root)
		slog.Info("dialog created", "id", root.ID(), "agent", newAgent)
	}

	go func() {
		err := config.WatchTeam(ctx, cfg.MindsDir, cfg.DiligencePushMax, rt.roster.swap)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("team watcher stopped", "error", err)
		}
	}()

	srv := gateway.NewServer(cfg, rt.registry, rt.driver)
	bus.SetQ4HBroadcaster(srv.Broadcast())
	defer bus.SetQ4HBroadcaster(nil)

	return srv.Start(ctx)
}

// runtime bundles the pieces serve and chat both need.
type runtime struct {
	cfg      *config.Config
	store    *journal.Store
	registry *dialog.Registry
	roster   *reloadableTeam
	driver   *driver.Driver
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	team, err := config.LoadTeam(cfg.MindsDir, cfg.DiligencePushMax)
	if err != nil {
		return nil, err
	}
	// Parse-and-validate only; a broken mcp.yaml should fail startup
	// even though nothing connects to the servers yet.
	if _, err := config.LoadMCP(cfg.MindsDir); err != nil {
		return nil, err
	}
	profiles, err := config.LoadLLM(cfg.MindsDir)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg, profiles)
	if err != nil {
		return nil, err
	}

	roster := newReloadableTeam(team)

	toolsReg := tools.NewRegistry()
	toolsReg.Register(tools.NewReminderTool())

	reg := dialog.NewRegistry()
	bus.SetResolver(reg.Resolver())

	drv := driver.New(driver.Config{
		Provider:     provider,
		Tools:        toolsReg,
		Team:         roster,
		SystemPrompt: defaultSystemPrompt,
		Model:        cfg.Provider.Model,
	})

	return &runtime{
		cfg:      cfg,
		store:    journal.NewStore(cfg.Store.Root),
		registry: reg,
		roster:   roster,
		driver:   drv,
	}, nil
}

// buildProvider resolves the provider from minds.json5, refined by a
// matching profile in .minds/llm.yaml. Any name other than "script"
// goes through the openai-compatible adapter.
func buildProvider(cfg *config.Config, profiles []config.LLMProfile) (providers.Provider, error) {
	name := cfg.Provider.Name
	apiBase := cfg.Provider.APIBase
	model := cfg.Provider.Model
	key := cfg.Provider.APIKey

	for _, p := range profiles {
		if p.Name != name {
			continue
		}
		if p.Kind == "script" {
			return providers.NewScriptProvider(), nil
		}
		if p.APIBase != "" {
			apiBase = p.APIBase
		}
		if p.Model != "" {
			model = p.Model
		}
		if p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
		}
		break
	}

	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("provider %q: no API key (set provider.apiKey, MINDS_API_KEY or OPENAI_API_KEY)", name)
	}
	return providers.NewOpenAIProvider(name, key, apiBase, model), nil
}

// reviveRoots reconstructs every persisted root with its agent's
// configured budget. A dialog that cannot be revived is skipped, not
// fatal: the rest of the store still serves.
func reviveRoots(rt *runtime) {
	ids, err := rt.store.ListDialogs()
	if err != nil {
		slog.Warn("store listing failed", "error", err)
		return
	}
	for _, selfID := range ids {
		meta, err := rt.store.LoadMeta(selfID)
		if err != nil {
			slog.Warn("skip unreadable dialog dir", "selfId", selfID, "error", err)
			continue
		}
		if meta.ParentID != "" {
			continue // picked up by its root
		}
		opts := dialog.ReviveOptions{
			DiligenceMax: rt.roster.DiligenceMax(meta.AgentID),
			ForceUnlock:  true,
		}
		if _, err := dialog.Revive(rt.store, selfID, rt.registry, opts); err != nil {
			slog.Error("dialog revival failed", "selfId", selfID, "error", err)
		}
	}
}

// reloadableTeam gives the driver a stable roster handle that the
// fsnotify watcher can swap underneath it.
type reloadableTeam struct {
	v atomic.Pointer[config.Team]
}

func newReloadableTeam(t *config.Team) *reloadableTeam {
	r := &reloadableTeam{}
	r.v.Store(t)
	return r
}

func (r *reloadableTeam) swap(t *config.Team) { r.v.Store(t) }

func (r *reloadableTeam) HasMember(id string) bool { return r.v.Load().HasMember(id) }

func (r *reloadableTeam) MemberPrompt(id string) string { return r.v.Load().MemberPrompt(id) }

func (r *reloadableTeam) DiligenceMax(id string) int { return r.v.Load().DiligenceMax(id) }
