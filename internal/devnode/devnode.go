// Package devnode runs a disposable geth development node in docker.
package devnode

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	docker "github.com/fsouza/go-dockerclient"
	"github.com/pkg/errors"
	"gopkg.in/inconshreveable/log15.v2"
)

const (
	DefaultImage        = "ethereum/client-go:v1.13.15"
	DefaultStartTimeout = time.Minute

	rpcPort            = docker.Port("8545/tcp")
	onlinePollInterval = 200 * time.Millisecond
)

// Config configures the node container.
type Config struct {
	Image          string
	StartTimeout   time.Duration
	DockerEndpoint string    // uses the DOCKER_HOST environment when empty
	Output         io.Writer // receives container output if set
	Logger         log15.Logger
}

// Node is a running node container.
type Node struct {
	ID  string
	URL string // HTTP JSON-RPC endpoint

	client *docker.Client
	logger log15.Logger
	waiter docker.CloseWaiter
	output *linePrefixWriter
	exited chan struct{}
	once   sync.Once
}

// gethArgs is the command line of the node. The debug and personal APIs are
// needed by the Riddled suite.
func gethArgs() []string {
	return []string{
		"--dev",
		"--http",
		"--http.addr", "0.0.0.0",
		"--http.port", rpcPort.Port(),
		"--http.api", "eth,web3,net,debug,personal",
		"--http.vhosts", "*",
		"--rpc.enabledeprecatedpersonal",
		"--allow-insecure-unlock",
	}
}

// Start creates and starts the node container and waits until its RPC port
// accepts connections.
func Start(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log15.Root()
	}

	var (
		client *docker.Client
		err    error
	)
	if cfg.DockerEndpoint == "" {
		client, err = docker.NewClientFromEnv()
	} else {
		client, err = docker.NewClient(cfg.DockerEndpoint)
	}
	if err != nil {
		return nil, errors.Wrap(err, "can't connect to docker")
	}
	env, err := client.Version()
	if err != nil {
		return nil, errors.Wrap(err, "can't get docker version")
	}
	logger.Debug("docker daemon online", "version", env.Get("Version"))

	if err := ensureImage(ctx, client, logger, cfg.Image); err != nil {
		return nil, err
	}

	c, err := client.CreateContainer(docker.CreateContainerOptions{
		Context: ctx,
		Config: &docker.Config{
			Image:        cfg.Image,
			Cmd:          gethArgs(),
			ExposedPorts: map[docker.Port]struct{}{rpcPort: {}},
		},
		HostConfig: &docker.HostConfig{
			PortBindings: map[docker.Port][]docker.PortBinding{
				rpcPort: {{HostIP: "127.0.0.1"}},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't create node container")
	}
	n := &Node{
		ID:     c.ID,
		client: client,
		logger: logger.New("image", cfg.Image, "container", c.ID[:8]),
		exited: make(chan struct{}),
	}
	if err := n.run(ctx, cfg.Output); err != nil {
		n.Stop()
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	if err := n.waitOnline(startCtx); err != nil {
		n.Stop()
		return nil, err
	}
	return n, nil
}

func ensureImage(ctx context.Context, client *docker.Client, logger log15.Logger, image string) error {
	_, err := client.InspectImage(image)
	if err == nil {
		return nil
	}
	if err != docker.ErrNoSuchImage {
		return errors.Wrapf(err, "can't inspect image %s", image)
	}
	logger.Info("pulling image", "image", image)
	repo, tag := docker.ParseRepositoryTag(image)
	opts := docker.PullImageOptions{Repository: repo, Tag: tag, Context: ctx}
	if err := client.PullImage(opts, docker.AuthConfiguration{}); err != nil {
		return errors.Wrapf(err, "can't pull image %s", image)
	}
	return nil
}

// run attaches to the container output and starts the container.
func (n *Node) run(ctx context.Context, output io.Writer) error {
	// A streaming attachment ends when the container exits.
	stream := io.Discard
	if output != nil {
		n.output = newLinePrefixWriter(output, fmt.Sprintf("[%s] ", n.ID[:8]))
		stream = n.output
	}
	attach := docker.AttachToContainerOptions{
		Container:    n.ID,
		OutputStream: stream,
		ErrorStream:  stream,
		Stream:       true,
		Stdout:       true,
		Stderr:       true,
	}
	waiter, err := n.client.AttachToContainerNonBlocking(attach)
	if err != nil {
		return errors.Wrap(err, "can't attach to node container")
	}
	n.waiter = waiter

	n.logger.Debug("starting container")
	if err := n.client.StartContainerWithContext(n.ID, nil, ctx); err != nil {
		return errors.Wrap(err, "can't start node container")
	}
	go func() {
		defer close(n.exited)
		err := waiter.Wait()
		n.logger.Debug("container exited", "err", err)
	}()

	info, err := n.client.InspectContainerWithOptions(docker.InspectContainerOptions{Context: ctx, ID: n.ID})
	if err != nil {
		return errors.Wrap(err, "can't inspect node container")
	}
	addr, err := hostAddr(info)
	if err != nil {
		return err
	}
	n.URL = "http://" + addr
	return nil
}

// hostAddr finds the host address the RPC port is published on.
func hostAddr(c *docker.Container) (string, error) {
	if c.NetworkSettings == nil {
		return "", errors.New("container has no network settings")
	}
	for _, b := range c.NetworkSettings.Ports[rpcPort] {
		if b.HostPort == "" {
			continue
		}
		ip := b.HostIP
		if ip == "" || ip == "0.0.0.0" {
			ip = "127.0.0.1"
		}
		return net.JoinHostPort(ip, b.HostPort), nil
	}
	return "", errors.Errorf("port %s is not published", rpcPort)
}

// waitOnline polls web3_clientVersion until the node answers. The published
// port accepts connections before geth listens, so a TCP dial is not enough.
func (n *Node) waitOnline(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(onlinePollInterval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		version, err := clientVersion(ctx, n.URL)
		if err == nil {
			n.logger.Info("node online", "url", n.URL, "version", version, "time", time.Since(start))
			return nil
		}
		if attempt%10 == 0 {
			n.logger.Debug("node not online yet", "url", n.URL, "err", err)
		}
		select {
		case <-ticker.C:
		case <-n.exited:
			return errors.New("node container terminated unexpectedly")
		case <-ctx.Done():
			return errors.Wrap(err, "timed out waiting for node startup")
		}
	}
}

func clientVersion(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return "", err
	}
	defer client.Close()
	var version string
	err = client.CallContext(ctx, &version, "web3_clientVersion")
	return version, err
}

// Stop removes the container. It is safe to call more than once.
func (n *Node) Stop() error {
	var err error
	n.once.Do(func() {
		n.logger.Debug("removing container")
		err = n.client.RemoveContainer(docker.RemoveContainerOptions{ID: n.ID, Force: true})
		if err != nil {
			n.logger.Error("can't remove container", "err", err)
		}
		if n.waiter != nil {
			n.waiter.Close()
		}
		if n.output != nil {
			n.output.Close()
		}
	})
	return err
}
