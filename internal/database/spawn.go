package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/hbomb79/Lyre/pkg/docker"
	"github.com/mitchellh/go-homedir"
)

const postgresImage = "postgres:14.1-alpine"

// InitialiseDockerDatabase spawns a PostgreSQL container for the history store, with
// its data directory bind-mounted from the users home directory. If the container
// crashes after starting, an error is delivered to the errChannel.
func InitialiseDockerDatabase(dockerManager docker.DockerManager, config DatabaseConfig, errChannel chan error) (docker.DockerContainer, error) {
	homeDir, err := homedir.Dir()
	if err != nil {
		return nil, fmt.Errorf("cannot initialise docker db volume mount as cannot find user home dir: %w", err)
	}

	dbDataPath := filepath.Join(homeDir, ".lyre", "lyre_db.dat")
	if err := os.MkdirAll(dbDataPath, os.ModePerm); err != nil {
		return nil, err
	}

	containerConfig := &container.Config{
		Image: postgresImage,
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", config.Password),
			fmt.Sprintf("POSTGRES_USER=%s", config.User),
			fmt.Sprintf("POSTGRES_DB=%s", config.Name),
		},
		ExposedPorts: nat.PortSet{
			"5432/tcp": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"5432/tcp": []nat.PortBinding{{
				HostIP:   config.Host,
				HostPort: config.Port,
			}},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dbDataPath,
				Target: "/var/lib/postgresql/data",
			},
		},
	}

	db := docker.NewDockerContainer("lyre_db", postgresImage, containerConfig, hostConfig)
	if err := dockerManager.SpawnContainer(db); err != nil {
		return nil, err
	}

	go func() {
		st, err := dockerManager.WaitForContainer(db, docker.CRASHED, docker.DEAD)
		if st != docker.CRASHED || err != nil {
			return
		}

		errChannel <- fmt.Errorf("container %s has crashed", db)
	}()

	return db, nil
}
