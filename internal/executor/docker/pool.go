package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// poolLabel marks containers this package created, so ones left behind by a
// crashed process can be found and removed on the next start.
const poolLabel = "io.laph.sandbox"

// Pool keeps PoolSize idle containers running `sleep infinity`. Each one
// serves a single execution; taking one schedules a replacement.
//
// REFILL:
// A token in vacancies means one missing container. The manager blocks on
// vacancies, so an idle full pool costs nothing.
type Pool struct {
	cli       *client.Client
	config    Config
	logger    *slog.Logger
	ready     chan string
	vacancies chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates an empty pool. Nothing is created until Start.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	size := max(cfg.PoolSize, 1)
	p := &Pool{
		cli:       cli,
		config:    cfg,
		logger:    logger,
		ready:     make(chan string, size),
		vacancies: make(chan struct{}, size),
		done:      make(chan struct{}),
	}
	for range size {
		p.vacancies <- struct{}{}
	}
	return p
}

// Start removes stale containers and begins filling the pool in the background.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.reapStale()
		p.logger.Info("starting sandbox container pool", slog.Int("poolSize", cap(p.ready)))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop halts the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down sandbox container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.ready:
				p.removeContainer(id)
			default:
				return
			}
		}
	})
}

// GetContainer hands out an idle container, blocking until one is ready or
// ctx ends. The caller owns the container and must remove it.
func (p *Pool) GetContainer(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		p.vacancies <- struct{}{}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// manager creates a container for every vacancy. Creation failures back off
// exponentially and keep the vacancy.
func (p *Pool) manager() {
	defer p.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	for {
		select {
		case <-p.done:
			return
		case <-p.vacancies:
		}

		id, err := p.createContainer()
		if err != nil {
			delay := retry.NextBackOff()
			p.logger.Error("failed to create sandbox container",
				slog.String("error", err.Error()),
				slog.Duration("retryIn", delay),
			)
			p.vacancies <- struct{}{}
			select {
			case <-time.After(delay):
			case <-p.done:
				return
			}
			continue
		}
		retry.Reset()

		select {
		case p.ready <- id:
		case <-p.done:
			p.removeContainer(id)
			return
		}
	}
}

// createContainer starts a network-less, read-only container as nobody.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.memoryBytes(),
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		// The interpreter may still want a scratch directory.
		Tmpfs: map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:  p.config.Image,
		Cmd:    []string{"sleep", "infinity"},
		User:   "nobody",
		Labels: map[string]string{poolLabel: "pool"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("docker: starting container: %w", err)
	}

	return resp.ID, nil
}

// reapStale removes labelled containers that outlived the process that made them.
func (p *Pool) reapStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stale, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", poolLabel)),
	})
	if err != nil {
		p.logger.Warn("listing stale sandbox containers", slog.String("error", err.Error()))
		return
	}
	for _, c := range stale {
		p.removeContainer(c.ID)
	}
	if len(stale) > 0 {
		p.logger.Info("removed stale sandbox containers", slog.Int("count", len(stale)))
	}
}

// removeContainer force removes a container by ID.
func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("removing sandbox container",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}
