package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/syncbridge/syncbridge/internal/model"
)

// Mode selects how local containers are paired with remote ones.
type Mode string

const (
	// ModeAuto pairs every local container (minus exclusions) with a remote
	// container of the same name, applying the default-container alias.
	ModeAuto Mode = "auto"

	// ModeManual processes only explicitly configured pairs. A container
	// absent from the table is neither read nor written.
	ModeManual Mode = "manual"
)

// The built-in alias: the platform's default local container maps to a fixed
// remote name instead of verbatim.
const (
	DefaultLocalContainer  = "Notes"
	DefaultRemoteContainer = "notes"
)

// Resolver decides which container pairs a run processes.
type Resolver struct {
	local   Adapter
	remote  Adapter
	mode    Mode
	manual  map[string]string // local → remote, manual mode only
	exclude map[string]bool   // auto mode only
	log     *slog.Logger
}

// NewResolver creates a Resolver. manual is consulted only in ModeManual,
// exclude only in ModeAuto.
func NewResolver(local, remote Adapter, mode Mode, manual map[string]string, exclude []string, logger *slog.Logger) *Resolver {
	ex := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		ex[name] = true
	}
	return &Resolver{
		local:   local,
		remote:  remote,
		mode:    mode,
		manual:  manual,
		exclude: ex,
		log:     logger,
	}
}

// Resolve returns the container pairs to process, sorted by local name for
// deterministic run order. Pairs whose local or remote container does not
// exist yet are flagged to-be-created; the engine asks the adapter to create
// them and skips the pair (with a [ContainerMappingError]) if it cannot.
func (r *Resolver) Resolve(ctx context.Context) ([]model.ContainerPair, error) {
	localSet, err := containerSet(ctx, r.local)
	if err != nil {
		return nil, fmt.Errorf("listing local containers: %w", err)
	}
	remoteSet, err := containerSet(ctx, r.remote)
	if err != nil {
		return nil, fmt.Errorf("listing remote containers: %w", err)
	}

	var pairs []model.ContainerPair

	switch r.mode {
	case ModeManual:
		for local, remote := range r.manual {
			pairs = append(pairs, model.ContainerPair{
				Local:        local,
				Remote:       remote,
				CreateLocal:  !localSet[local],
				CreateRemote: !remoteSet[remote],
			})
		}

	default: // ModeAuto
		for local := range localSet {
			if r.exclude[local] {
				r.log.Debug("container excluded", "container", local)
				continue
			}
			remote := local
			if local == DefaultLocalContainer {
				remote = DefaultRemoteContainer
			}
			pairs = append(pairs, model.ContainerPair{
				Local:        local,
				Remote:       remote,
				CreateRemote: !remoteSet[remote],
			})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Local < pairs[j].Local })
	return pairs, nil
}

func containerSet(ctx context.Context, a Adapter) (map[string]bool, error) {
	names, err := a.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
