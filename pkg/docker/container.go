package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	dCont "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/hbomb79/Lyre/pkg/logger"
)

type ContainerStatus int

const (
	// Container struct instance has just been created
	INIT ContainerStatus = iota

	// Container image has been pulled to local docker daemon, but the container has not yet been created
	PULLED

	// Container has been created from a previously PULLED image
	CREATED

	// Container is UP and working normally
	UP

	// Container has CRASHED
	CRASHED

	// Container is being closed intentionally, next status should always be DOWN
	CLOSING

	// Container is DOWN (intentionally closed)
	DOWN

	// Container has been removed
	DEAD
)

type ContainerEvent struct {
	Status         string `json:"status"`
	Error          string `json:"error"`
	Progress       string `json:"progress"`
	ProgressDetail struct {
		Current int `json:"current"`
		Total   int `json:"total"`
	} `json:"progressDetail"`
}

func (e ContainerStatus) String() string {
	names := []string{"INIT", "PULLED", "CREATED", "UP", "CRASHED", "CLOSING", "DOWN", "DEAD"}
	if int(e) < 0 || int(e) >= len(names) {
		return "UNKNOWN"
	}

	return names[e]
}

type DockerContainer interface {
	// Start will pull the required Docker image and attempt to create and start
	// a container via the Docker SDK. An error will be returned from this method if
	// this process fails, however monitoring of this container occurs asynchronously
	// so no error will be returned if the container crashes after successfully starting.
	Start(context.Context, client.APIClient) error

	// Close shuts down this container by stopping the running container (if running), and
	// removing the container from the docker daemon via the Docker SDK.
	Close(context.Context, client.APIClient, time.Duration) error

	// MessageChannel returns the channel used by a running container to broadcast new
	// messages from the stdout/stderr of the container. A DEAD container will have a closed
	// message channel.
	MessageChannel() chan []byte

	// StatusChannel returns the channel used by a container to broadcast it's status (see ContainerStatus)
	// A channel that has broadcast a DEAD state will be closed.
	StatusChannel() chan ContainerStatus

	Label() string
	ID() string
	Status() ContainerStatus
}

type dockerContainer struct {
	mu                sync.Mutex
	statusChannel     chan ContainerStatus
	messageChannel    chan []byte
	label             string
	imageID           string
	containerID       string
	status            ContainerStatus
	containerConf     *dCont.Config
	containerHostConf *dCont.HostConfig
}

// NewDockerContainer creates a new DockerContainer instance. This instance can later be started manually, or via
// a DockerManager.
func NewDockerContainer(label string, image string, conf *dCont.Config, hostConf *dCont.HostConfig) DockerContainer {
	return &dockerContainer{
		statusChannel:     make(chan ContainerStatus, 10),
		messageChannel:    make(chan []byte, 10),
		imageID:           image,
		containerConf:     conf,
		containerHostConf: hostConf,
		status:            INIT,
		label:             label,
	}
}

func (c *dockerContainer) Start(ctx context.Context, cli client.APIClient) error {
	if c.Status() != INIT {
		return fmt.Errorf("cannot start container %s based on image %v as status is invalid", c, c.imageID)
	}

	out, err := cli.ImagePull(ctx, c.imageID, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %v for container %s: %w", c.imageID, c, err)
	}
	defer out.Close()

	eventStream := json.NewDecoder(out)
	for {
		var event ContainerEvent
		if err := eventStream.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("failed to decode image pull stream for %s: %w", c, err)
		}

		c.parseContainerEvent(&event)
	}

	c.setStatus(PULLED)

	resp, err := cli.ContainerCreate(ctx, c.containerConf, c.containerHostConf, nil, nil, c.label)
	if err != nil {
		return fmt.Errorf("failed to create container for %s: %w", c, err)
	}
	c.mu.Lock()
	c.containerID = resp.ID
	c.mu.Unlock()
	c.setStatus(CREATED)

	if err := cli.ContainerStart(ctx, resp.ID, dCont.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container for %s: %w", c, err)
	}
	c.setStatus(UP)

	go c.monitorContainer(ctx, cli)
	return nil
}

func (c *dockerContainer) Close(ctx context.Context, cli client.APIClient, timeout time.Duration) error {
	if c.Status() == DEAD {
		return nil
	}

	// The container is always marked DEAD, even if the daemon rejects
	// our requests, so that anything monitoring it is released
	defer c.setStatus(DEAD)

	if c.ID() == "" {
		return nil
	}

	if c.canStop() {
		c.setStatus(CLOSING)
		timeoutSeconds := int(timeout.Seconds())
		if err := cli.ContainerStop(ctx, c.ID(), dCont.StopOptions{Timeout: &timeoutSeconds}); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", c, err)
		}

		c.setStatus(DOWN)
	}

	if c.canRemove() {
		if err := cli.ContainerRemove(ctx, c.ID(), dCont.RemoveOptions{}); err != nil {
			return fmt.Errorf("failed to remove container %s: %w", c, err)
		}
	}

	return nil
}

func (c *dockerContainer) MessageChannel() chan []byte          { return c.messageChannel }
func (c *dockerContainer) StatusChannel() chan ContainerStatus { return c.statusChannel }
func (c *dockerContainer) Label() string                       { return c.label }

func (c *dockerContainer) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containerID
}

func (c *dockerContainer) Status() ContainerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *dockerContainer) String() string {
	id := c.ID()
	if len(id) < 10 {
		return fmt.Sprintf("%v[...]", c.label)
	}

	return fmt.Sprintf("%v[%v]", c.label, id[:10])
}

func (c *dockerContainer) canStop() bool {
	status := c.Status()
	return status == CLOSING || status == CREATED || status == UP || status == CRASHED
}

func (c *dockerContainer) canRemove() bool {
	return c.canStop() || c.Status() == DOWN
}

// setStatus records the new status and broadcasts it. Once a container
// is DEAD, its channels are closed and no further statuses are accepted.
func (c *dockerContainer) setStatus(stat ContainerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == DEAD {
		return
	}

	c.status = stat
	c.statusChannel <- stat
	if stat == DEAD {
		close(c.statusChannel)
		close(c.messageChannel)
	}
}

func (c *dockerContainer) parseContainerEvent(ev *ContainerEvent) {
	if ev.Error != "" {
		dockerLogger.Emit(logger.ERROR, "%s: %s\n", c, ev.Error)
	} else if ev.Progress != "" {
		dockerLogger.Emit(logger.VERBOSE, "%s: %s\n", c, ev.Progress)
	} else if ev.Status != "" {
		dockerLogger.Emit(logger.DEBUG, "%s: %s\n", c, ev.Status)
	} else {
		dockerLogger.Emit(logger.WARNING, "Container %s emitted unknown event %v\n", c, ev)
	}
}

func (c *dockerContainer) monitorContainer(ctx context.Context, cli client.APIClient) {
	reader, err := cli.ContainerLogs(ctx, c.ID(), dCont.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		c.setStatus(CRASHED)
		return
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		if c.Status() != UP {
			break
		}

		c.sendMessage(append([]byte(nil), scanner.Bytes()...))
	}

	if status := c.Status(); status == UP {
		c.setStatus(CRASHED)
	}
}

func (c *dockerContainer) sendMessage(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == DEAD {
		return
	}

	select {
	case c.messageChannel <- msg:
	default:
	}
}
