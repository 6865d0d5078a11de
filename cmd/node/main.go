package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/codec"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/controller"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/escalation"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/network"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/radio"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/gateways/sensor"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/logging"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/platform"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/storage"
	"github.com/janael-pinheiro/lora-sensor-node/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	configFilepathVariable = "NODE_CONFIG_FILEPATH"
	sensorJitter           = 0.05
)

func main() {
	conf := entities.DefaultNodeConfig()
	if path := utils.GetValueFromEnvironmentVariable(configFilepathVariable, ""); path != "" {
		parsed, err := utils.ConfigurationParser(path, conf)
		if err != nil {
			logrus.WithError(err).Fatalf("configuration %s not loaded", path)
		}
		conf = parsed
	}
	if err := conf.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := logging.NewLogrus(conf.Log.Level, conf.Log.Format, os.Stdout)
	log := logger.Get("Main")

	host := platform.NewHost(logger.Get("Platform"))

	durable, err := storage.OpenFileStore(conf.Storage.DurablePath)
	if err != nil {
		log.WithError(err).Fatal("durable store not opened")
	}
	store := storage.NewContextStore(durable, storage.NewFileRetained(conf.Storage.RetainedPath), logger.Get("Storage"))
	if err = store.Boot(host.WakeCause()); err != nil {
		log.WithError(err).Fatal("retained memory not cleared")
	}
	if err = store.Provision(conf.Node.FirmwareVersion, conf.ScheduleConfig()); err != nil {
		log.WithError(err).Fatal("provisioning failed")
	}

	frameCodec, err := newCodec(conf.Channels, conf.Modes)
	if err != nil {
		log.WithError(err).Fatal("invalid frame layout")
	}

	collector := sensor.NewCollector(
		sensor.NewSimulated(conf.Sensors.Simulated, sensorJitter, int64(os.Getpid())),
		conf.Sensors,
		logger.Get("Sensor"),
	)

	link := radio.NewLink(
		newRadio(conf.Radio, logger),
		radio.AuthFromConfig(conf.Radio),
		conf.Radio.JoinTimeout(),
		conf.Radio.SendTimeout(),
		logger.Get("Radio"),
	)

	node := controller.New(conf.Node.ID, controller.TimingFromConfig(conf.Timing), controller.Dependencies{
		Store:     store,
		Codec:     frameCodec,
		Collector: collector,
		Link:      link,
		Escalator: escalation.NewManager(store, link, logger.Get("Escalation")),
		Platform:  host,
		Status:    platform.NewLogDisplay(logger.Get("Display")),
	}, logger.Get("Controller"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel, host, log)

	if err = node.Run(ctx); err != nil {
		log.WithError(err).Error("node halted")
		os.Exit(1)
	}
	log.Info("node stopped")
}

func newCodec(channels map[string]entities.EncodingRule, modes []entities.ModeLayout) (*codec.Codec, error) {
	rules, err := codec.RulesFromConfig(channels)
	if err != nil {
		return nil, err
	}
	layouts, err := codec.LayoutsFromConfig(modes)
	if err != nil {
		return nil, err
	}
	return codec.New(rules, layouts)
}

// newRadio forwards uplinks to the broker when one is configured and falls
// back to an in-process radio otherwise.
func newRadio(conf entities.RadioConfig, logger *logging.Logrus) radio.Radio {
	if conf.URL == "" {
		return radio.NewSimulated(logger.Get("SimulatedRadio"))
	}
	amqp := network.NewAMQP(conf.URL, logger.Get("AMQP"))
	return radio.NewBridge(amqp, network.NewMsgPublisher(amqp), logger.Get("Bridge"))
}

// handleSignals stops the node on SIGINT or SIGTERM. SIGUSR1 acts as the
// user button.
func handleSignals(cancel context.CancelFunc, host *platform.Host, log *logrus.Entry) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range signals {
		if sig == syscall.SIGUSR1 {
			log.Info("button pressed")
			host.Press()
			continue
		}
		log.Infof("%s received, stopping", sig)
		cancel()
		return
	}
}
