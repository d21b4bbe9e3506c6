// internal/pkg/nacos/client.go
package nacos

import (
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/logger"
)

// Registrar 负责把 HTTP 服务实例注册到 Nacos，供网关发现
type Registrar struct {
	namingClient naming_client.INamingClient
	groupName    string
}

// Options Nacos 连接参数
type Options struct {
	Addrs     []string // "ip:port"
	Namespace string
	Group     string
}

// NewRegistrar 创建命名客户端
func NewRegistrar(opts Options) (*Registrar, error) {
	if opts.Group == "" {
		opts.Group = "DEFAULT_GROUP"
	}

	serverConfigs := make([]constant.ServerConfig, 0, len(opts.Addrs))
	for _, addr := range opts.Addrs {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid nacos address %q", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port in nacos address %q", addr)
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(host, port))
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(opts.Namespace),
	)

	namingClient, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create nacos naming client")
	}
	return &Registrar{namingClient: namingClient, groupName: opts.Group}, nil
}

// Register 注册临时实例，心跳断开后由 Nacos 自动摘除
func (r *Registrar) Register(serviceName, ip string, port int, metadata map[string]string) error {
	ok, err := r.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    metadata,
		GroupName:   r.groupName,
	})
	if err != nil {
		return errors.Wrap(err, "register instance")
	}
	if !ok {
		return errors.Errorf("nacos registration was not successful for service %s", serviceName)
	}
	logger.L().Info().Str("service", serviceName).Str("ip", ip).Int("port", port).Msg("✅ registered to nacos")
	return nil
}

// Deregister 注销实例
func (r *Registrar) Deregister(serviceName, ip string, port int) error {
	if _, err := r.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          ip,
		Port:        uint64(port),
		ServiceName: serviceName,
		Ephemeral:   true,
		GroupName:   r.groupName,
	}); err != nil {
		return errors.Wrap(err, "deregister instance")
	}
	return nil
}

// Close 关闭底层客户端
func (r *Registrar) Close() {
	r.namingClient.CloseClient()
}

// OutboundIP 通过 UDP "连接" 获取本机对外的 IP，不会真正发包
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "detect outbound ip")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
