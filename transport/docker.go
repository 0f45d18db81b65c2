package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/run/onexit"

	"github.com/devtrace/devtrace/trace"
)

var (
	dockerOnce   sync.Once
	dockerClient *client.Client
	dockerErr    error
)

// dockerutilClient returns a process-wide shared Docker client,
// honoring DOCKER_HOST when set and otherwise probing the usual socket
// locations (system daemon, Docker Desktop, colima).
func dockerutilClient() (*client.Client, error) {
	dockerOnce.Do(func() {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if os.Getenv("DOCKER_HOST") == "" {
			if sock := findDockerSocket(); sock != "" {
				opts = append(opts, client.WithHost("unix://"+sock))
			}
		}
		dockerClient, dockerErr = client.NewClientWithOpts(opts...)
	})
	return dockerClient, dockerErr
}

func findDockerSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	candidates := []string{"/var/run/docker.sock"}
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// DockerConfig configures the Container Transport Adapter: run Cmd
// inside a throwaway container built from Image instead of a host
// process.
type DockerConfig struct {
	Image string            `json:"image"`
	Cmd   []string          `json:"cmd,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	// Ports publishes container ports to the host, one entry per port as
	// "containerPort:hostPort" (e.g. a device-comms container fronting a
	// WebSocket relay on a fixed port). Empty by default; most devtrace
	// containers speak only over attached stdio and need no port at all.
	Ports []string `json:"ports,omitempty"`
}

// buildPortBindings turns DockerConfig.Ports into the nat.PortMap/PortSet
// pair ContainerCreate expects. Host bindings stay on loopback.
func buildPortBindings(ports []string) (nat.PortMap, nat.PortSet, error) {
	bindings := make(nat.PortMap)
	exposed := make(nat.PortSet)
	for _, p := range ports {
		containerPort, hostPort, ok := strings.Cut(p, ":")
		if !ok {
			return nil, nil, fmt.Errorf("invalid port mapping %q, want containerPort:hostPort", p)
		}
		if _, err := strconv.Atoi(containerPort); err != nil {
			return nil, nil, fmt.Errorf("invalid container port in %q: %w", p, err)
		}
		portKey := nat.Port(containerPort + "/tcp")
		exposed[portKey] = struct{}{}
		bindings[portKey] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}}
	}
	return bindings, exposed, nil
}

// Docker is the container transport. It creates and starts one
// throwaway container per invocation, attaches stdin/stdout/stderr,
// demuxes the combined attach stream into two Adapters with distinct
// source tags, and tears the container down on Terminate. An onexit
// registration force-removes the container if devtrace itself is killed
// before Terminate runs.
type Docker struct {
	cli          *client.Client
	containerID  string
	stdout       *pipeAdapter
	stderr       *pipeAdapter
	exitCh       chan int
	cancelOnexit func() error
}

// NewDocker pulls cfg.Image if not already present locally, then creates
// and starts a container running cfg.Cmd with stdio attached.
func NewDocker(ctx context.Context, cfg DockerConfig) (*Docker, error) {
	cli, err := dockerutilClient()
	if err != nil {
		return nil, &trace.TransportError{Op: "docker client", Cause: err}
	}

	if _, _, err := cli.ImageInspectWithRaw(ctx, cfg.Image); err != nil {
		rc, pullErr := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
		if pullErr != nil {
			return nil, &trace.TransportError{Op: "docker pull", Cause: pullErr}
		}
		io.Copy(io.Discard, rc)
		rc.Close()
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	portBindings, exposedPorts, err := buildPortBindings(cfg.Ports)
	if err != nil {
		return nil, &trace.ConfigurationError{Reason: err.Error()}
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          env,
		ExposedPorts: exposedPorts,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
	}
	hostCfg := &container.HostConfig{PortBindings: portBindings}

	resp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, &trace.TransportError{Op: "docker create", Cause: err}
	}

	cancelOnexit, _ := onexit.OnExitF("docker rm -f %s", resp.ID)

	attach, err := cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, &trace.TransportError{Op: "docker attach", Cause: err}
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, &trace.TransportError{Op: "docker start", Cause: err}
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
		stdoutW.Close()
		stderrW.Close()
	}()

	d := &Docker{
		cli:          cli,
		containerID:  resp.ID,
		exitCh:       make(chan int, 1),
		cancelOnexit: cancelOnexit,
	}
	d.stdout = newPipeAdapter(trace.SourceStdout, stdoutR, attach.Conn)
	d.stderr = newPipeAdapter(trace.SourceStderr, stderrR, attach.Conn)

	waitCh, errCh := cli.ContainerWait(context.Background(), resp.ID, container.WaitConditionNotRunning)
	go func() {
		select {
		case result := <-waitCh:
			d.exitCh <- int(result.StatusCode)
		case <-errCh:
			d.exitCh <- -1
		}
	}()

	return d, nil
}

// Stdout is the Adapter carrying the container's demuxed standard output.
func (d *Docker) Stdout() Adapter { return d.stdout }

// Stderr is the Adapter carrying the container's demuxed standard error.
func (d *Docker) Stderr() Adapter { return d.stderr }

// ExitCode delivers the container's exit code exactly once.
func (d *Docker) ExitCode() <-chan int { return d.exitCh }

// Terminate stops and force-removes the container.
func (d *Docker) Terminate(ctx context.Context) {
	timeout := 10
	cleanCtx := context.Background()
	d.cli.ContainerStop(cleanCtx, d.containerID, container.StopOptions{Timeout: &timeout})
	d.cli.ContainerRemove(cleanCtx, d.containerID, container.RemoveOptions{Force: true})
	if d.cancelOnexit != nil {
		d.cancelOnexit()
	}
}

// Close closes both pipe adapters. The container itself is torn down
// via Terminate, not Close.
func (d *Docker) Close() error {
	err1 := d.stdout.Close()
	err2 := d.stderr.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
