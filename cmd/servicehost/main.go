// servicehost 启动工作者池与内置服务（生命周期日志、心跳、状态端点），
// 阻塞等待 SIGINT/SIGTERM 后依次关闭服务和工作者池。
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/gocrud/servicehost"
	"github.com/gocrud/servicehost/config"
	"github.com/gocrud/servicehost/metrics"
)

type flags struct {
	configFiles []string
	envPrefix   string
	etcd        string
	etcdPrefix  string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("servicehost", flag.ContinueOnError)
	fs.Func("config", "configuration file (json, yaml or toml); repeatable, later files override earlier ones", func(v string) error {
		f.configFiles = append(f.configFiles, v)
		return nil
	})
	fs.StringVar(&f.envPrefix, "env-prefix", "SERVICEHOST_", "environment variable prefix; empty disables environment overrides")
	fs.StringVar(&f.etcd, "etcd", "", "comma separated etcd endpoints to read configuration from")
	fs.StringVar(&f.etcdPrefix, "etcd-prefix", "/servicehost/", "etcd key prefix")
	err := fs.Parse(args)
	return f, err
}

// loadSettings 按 默认值 → 文件 → etcd → 环境变量 的顺序叠加配置
func loadSettings(f flags) (config.Configuration, config.Settings, error) {
	builder := config.NewConfigurationBuilder()
	for _, path := range f.configFiles {
		builder.AddFile(path)
	}
	if f.etcd != "" {
		builder.AddEtcd(config.EtcdOptions{
			Endpoints: strings.Split(f.etcd, ","),
			Prefix:    f.etcdPrefix,
		})
	}
	if f.envPrefix != "" {
		builder.AddEnvironmentVariables(f.envPrefix)
	}

	cfg, err := builder.Build()
	if err != nil {
		return nil, config.Settings{}, err
	}
	settings, err := config.LoadSettings(cfg)
	return cfg, settings, err
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, settings, err := loadSettings(f)
	if err != nil {
		return err
	}

	loggers, err := newLoggerFactory(settings.Logging)
	if err != nil {
		return err
	}
	defer loggers.Close()

	if err := watchLogLevel(cfg, settings.Logging, loggers); err != nil {
		return err
	}

	var registry *metrics.Registry
	if settings.Metrics.Enabled {
		registry = metrics.NewRegistry(settings.Metrics.Namespace)
	}
	shared := newShared(cfg, settings, loggers, registry, uuid.NewString())

	return servicehost.Run(settings.Host.Workers, shared, newServices, hostOptions(shared)...)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "servicehost: %v\n", err)
		os.Exit(1)
	}
}
