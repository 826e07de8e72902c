// Package docker provides utilities for creating, spawning and monitoring docker
// containers locally. This is used to spawn services such as Lyre's PostgreSQL
// history database when one is not provided externally.
package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/hbomb79/Lyre/pkg/logger"
)

var dockerLogger = logger.Get("Docker")

type DockerManager interface {
	SpawnContainer(DockerContainer) error
	Shutdown(timeout time.Duration)
	CloseContainer(name string, timeout time.Duration)
	WaitForContainer(container DockerContainer, statuses ...ContainerStatus) (ContainerStatus, error)
}

type dockerContainerStatus struct {
	containerLabel string
	status         ContainerStatus
}

type docker struct {
	mu         sync.Mutex
	containers map[string]DockerContainer
	cli        client.APIClient
	ctx        context.Context
	ctxCancel  context.CancelFunc
	wg         *sync.WaitGroup
	broker     *statusBroker
}

// NewDockerManager connects to the docker daemon described by the environment
// (DOCKER_HOST et al).
func NewDockerManager() (DockerManager, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return newDockerManager(c), nil
}

func newDockerManager(cli client.APIClient) *docker {
	ctx, ctxCancel := context.WithCancel(context.Background())
	return &docker{
		containers: make(map[string]DockerContainer),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		cli:        cli,
		wg:         &sync.WaitGroup{},
		broker:     newStatusBroker(),
	}
}

func (docker *docker) SpawnContainer(container DockerContainer) error {
	docker.mu.Lock()
	if _, ok := docker.containers[container.Label()]; ok {
		docker.mu.Unlock()
		return fmt.Errorf("cannot spawn container %s as label is already in use", container)
	}
	docker.containers[container.Label()] = container
	docker.mu.Unlock()

	// Monitoring must begin before the container starts so that
	// no status changes are missed by WaitForContainer
	docker.wg.Add(1)
	go docker.monitorContainer(container, docker.wg)

	if err := container.Start(docker.ctx, docker.cli); err != nil {
		_ = container.Close(docker.ctx, docker.cli, time.Second*10)
		return err
	}

	dockerLogger.Emit(logger.INFO, "Waiting for container %s to come UP\n", container)
	if _, err := docker.WaitForContainer(container, UP); err != nil {
		dockerLogger.Emit(logger.ERROR, "Container %s failed to come online: %v\n", container, err.Error())
		return err
	}

	dockerLogger.Emit(logger.SUCCESS, "Container %s is UP!\n", container)
	return nil
}

func (docker *docker) Shutdown(timeout time.Duration) {
	docker.mu.Lock()
	containers := make([]DockerContainer, 0, len(docker.containers))
	for _, c := range docker.containers {
		containers = append(containers, c)
	}
	docker.mu.Unlock()

	for _, c := range containers {
		docker.closeContainer(c, timeout)
	}

	docker.wg.Wait()
	docker.broker.Close()
	docker.ctxCancel()
}

func (docker *docker) CloseContainer(name string, timeout time.Duration) {
	docker.mu.Lock()
	container, ok := docker.containers[name]
	docker.mu.Unlock()
	if !ok {
		return
	}

	docker.closeContainer(container, timeout)
}

func (docker *docker) WaitForContainer(container DockerContainer, statuses ...ContainerStatus) (ContainerStatus, error) {
	ch := docker.broker.Subscribe()
	defer docker.broker.Unsubscribe(ch)

	// If container is DEAD we won't ever see a status change
	if container.Status() == DEAD {
		return DEAD, fmt.Errorf("cannot wait on DEAD container %s", container)
	}

	for _, s := range statuses {
		if container.Status() == s {
			return s, nil
		}
	}

	for update := range ch {
		if update.containerLabel != container.Label() {
			continue
		}

		for _, stat := range statuses {
			if stat == update.status {
				return stat, nil
			}
		}
	}

	return DEAD, fmt.Errorf("wait on container %s aborted as container has closed", container)
}

func (docker *docker) closeContainer(cont DockerContainer, timeout time.Duration) {
	dockerLogger.Emit(logger.STOP, "Closing container %s...\n", cont)
	if err := cont.Close(docker.ctx, docker.cli, timeout); err != nil {
		dockerLogger.Emit(logger.ERROR, "Failed to close container %s: %v\n", cont, err)
	}
}

func (docker *docker) monitorContainer(container DockerContainer, wg *sync.WaitGroup) {
	defer func() {
		dockerLogger.Emit(logger.INFO, "Container %s - Status management DETACHED\n", container)
		wg.Done()
	}()

	statusChannel := container.StatusChannel()
	messageChannel := container.MessageChannel()
	for statusChannel != nil || messageChannel != nil {
		select {
		case stat, ok := <-statusChannel:
			if !ok {
				statusChannel = nil
				continue
			}
			dockerLogger.Emit(logger.INFO, "Container %s - Status change: %s\n", container, stat)

			docker.broker.Publish(&dockerContainerStatus{containerLabel: container.Label(), status: stat})
		case msg, ok := <-messageChannel:
			if !ok {
				messageChannel = nil
				continue
			}
			dockerLogger.Emit(logger.VERBOSE, "%s: %s\n", container, msg)
		}
	}
}
