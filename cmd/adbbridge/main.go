// adbbridge 主机侧ADB桥接服务
//
// 在本地端口上提供ADB主机协议，并通过传输层与设备上的adbd完成握手和认证。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/junbin-yang/adbbridge-go/pkg/adbserver"
	"github.com/junbin-yang/adbbridge-go/pkg/authmanager"
	"github.com/junbin-yang/adbbridge-go/pkg/keystore"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice"
	"github.com/junbin-yang/adbbridge-go/pkg/usbdevice/nettransport"
	"github.com/junbin-yang/adbbridge-go/pkg/utils/config"
	log "github.com/junbin-yang/adbbridge-go/pkg/utils/logger"
)

const usage = `用法: adbbridge [选项] <命令>

命令:
  serve       启动主机协议服务器（默认）
  devices     查询正在运行的服务器上的设备数量
  pubkey      打印主机公钥
  clear-keys  删除保存的密钥对
  version     打印版本信息

选项:
`

func main() {
	configPath := flag.String("c", "", "配置文件路径")
	debug := flag.Bool("debug", false, "输出调试日志")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		pterm.DisableStyling()
	}

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	if cmd == "version" {
		printVersion()
		return
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if *debug {
		conf.Logger.Level = "debug"
	}
	config.ApplyLogger(conf)
	defer log.Sync()

	switch cmd {
	case "serve":
		err = serve(conf)
	case "devices":
		err = queryDevices(conf)
	case "pubkey":
		err = printPublicKey(conf)
	case "clear-keys":
		err = clearKeys(conf)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func printVersion() {
	pterm.Info.Printfln("%s %s", config.APPNAME, config.VERSION)
	pterm.Printfln("构建时间: %s", config.BUILD_TIME)
	pterm.Printfln("Go版本: %s", config.GO_VERSION)
}

// serve 启动服务器，直到收到SIGINT或SIGTERM
func serve(conf *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auth, closeStore, err := openAuthManager(conf)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := auth.Initialize(); err != nil {
		return fmt.Errorf("初始化认证密钥失败: %w", err)
	}
	if fp, err := auth.Fingerprint(); err == nil {
		log.Infof("[MAIN] 主机公钥指纹: %s", fp)
	}

	// 设备经由adbd的TCP端口访问
	if len(conf.Devices) == 0 {
		log.Warn("[MAIN] 未配置任何设备地址")
	}
	transport, err := nettransport.New(conf.Devices)
	if err != nil {
		return err
	}

	srv := adbserver.NewServer(adbserver.Config{
		Address:        conf.Server.Address,
		Port:           conf.Server.Port,
		MaxConnections: conf.Server.MaxConnections,
		Filter: usbdevice.Filter{
			VendorID:  conf.USB.VendorID,
			ProductID: conf.USB.ProductID,
		},
		Session: usbdevice.Options{
			Interface:   int(conf.USB.Interface),
			InEndpoint:  conf.USB.InEndpoint,
			OutEndpoint: conf.USB.OutEndpoint,
			MaxData:     conf.USB.MaxData,
		},
	}, transport, auth)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("启动服务器失败: %w", err)
	}
	pterm.Success.Printfln("正在监听 %s:%d", conf.Server.Address, srv.Port())

	<-ctx.Done()
	pterm.Info.Println("正在关闭...")
	srv.Stop()
	return nil
}

// queryDevices 向正在运行的服务器发送host:devices
func queryDevices(conf *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := adbserver.Query(ctx, conf.Server.Address, conf.Server.Port, adbserver.ServiceDevices)
	if err != nil {
		return fmt.Errorf("查询%s失败: %w", conf.ListenAddr(), err)
	}
	pterm.Info.Println(msg)
	return nil
}

func printPublicKey(conf *config.Config) error {
	auth, closeStore, err := openAuthManager(conf)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := auth.Initialize(); err != nil {
		return err
	}

	key, err := auth.PublicKey()
	if err != nil {
		return err
	}
	fp, err := auth.Fingerprint()
	if err != nil {
		return err
	}
	pterm.Info.Printfln("指纹: %s", fp)
	fmt.Println(key)
	return nil
}

func clearKeys(conf *config.Config) error {
	auth, closeStore, err := openAuthManager(conf)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := auth.Clear(); err != nil {
		return err
	}
	pterm.Success.Println("已删除密钥")
	return nil
}

// openAuthManager 按配置打开密钥存储并创建认证管理器
// 返回：
//   - 认证管理器
//   - 关闭存储的函数
//   - 错误信息
func openAuthManager(conf *config.Config) (*authmanager.AuthManager, func(), error) {
	var (
		store   keystore.Store
		closeFn = func() {}
	)
	switch conf.KeyStore.Type {
	case config.KeyStoreMemory:
		store = keystore.NewMemoryStore()
	case config.KeyStoreFile:
		fs, err := keystore.NewFileStore(conf.KeyStore.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	case config.KeyStorePostgres:
		ps, err := keystore.OpenPostgres(conf.KeyStore.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = ps
		closeFn = func() { ps.Close() }
	default:
		return nil, nil, fmt.Errorf("未知的密钥存储类型: %s", conf.KeyStore.Type)
	}
	if conf.KeyStore.Passphrase != "" {
		store = keystore.NewEncryptedStore(store, conf.KeyStore.Passphrase)
	}

	auth := authmanager.NewAuthManager(store, authmanager.Options{
		Bits:       conf.Auth.KeyBits,
		Identifier: conf.Auth.Identifier,
	})
	return auth, closeFn, nil
}
