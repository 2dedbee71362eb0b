package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/loopline-audio/loopline/cmd/config"
	"github.com/loopline-audio/loopline/internal/hal"
	"github.com/loopline-audio/loopline/pkg/engine"
	"github.com/loopline-audio/loopline/pkg/frame"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	listDevices := flag.Bool("listDevices", false, "List the available audio devices and exit.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	format := frame.Format{
		SampleRate:  viper.GetInt("samplerate"),
		NumChannels: viper.GetInt("channels"),
	}

	driver, err := hal.NewMalgoDriver(format)
	if err != nil {
		slog.Error("error while creating audio driver", "err", err)
		panic(err)
	}
	defer driver.Close()

	if *listDevices {
		printDevices(driver)
		return
	}

	// --------------------------------------------------------------------------------

	cfg := engine.Config{
		Format:         format,
		InputDeviceID:  viper.GetInt("inputdevice"),
		OutputDeviceID: viper.GetInt("outputdevice"),
		BufferFrames:   viper.GetInt("bufferframes"),
		RingMultiplier: viper.GetInt("ringmultiplier"),
		SliceCount:     viper.GetInt("slicecount"),
	}

	duplex, err := engine.New(driver, cfg)
	if err != nil {
		slog.Error("error while creating engine", "err", err)
		panic(err)
	}
	defer duplex.Close()

	attachRecorders(duplex)

	if err := duplex.Start(); err != nil {
		slog.Error("error while starting engine", "err", err)
		panic(err)
	}

	// Any positional arguments are audio files to play over the passthrough.
	for _, path := range flag.Args() {
		if err := duplex.Play(path); err != nil {
			slog.Error("error while scheduling file", "path", path, "err", err)
		}
	}

	slog.Info("duplex engine running, interrupt to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if err := duplex.Stop(); err != nil {
		slog.Error("error while stopping engine", "err", err)
	}
}

func attachRecorders(duplex *engine.Engine) {
	if path := viper.GetString("recordinput"); path != "" {
		if err := duplex.SetInputRecordingPath(path); err != nil {
			slog.Error("error while attaching input recorder", "path", path, "err", err)
		}
	}
	if path := viper.GetString("recordplayer"); path != "" {
		if err := duplex.SetPlayerRecordingPath(path); err != nil {
			slog.Error("error while attaching player recorder", "path", path, "err", err)
		}
	}
	if path := viper.GetString("recordoutput"); path != "" {
		if err := duplex.SetOutputRecordingPath(path); err != nil {
			slog.Error("error while attaching output recorder", "path", path, "err", err)
		}
	}
}

func printDevices(driver *hal.MalgoDriver) {
	inputs, err := driver.InputDevices()
	if err != nil {
		slog.Error("error while listing input devices", "err", err)
		panic(err)
	}
	outputs, err := driver.OutputDevices()
	if err != nil {
		slog.Error("error while listing output devices", "err", err)
		panic(err)
	}

	fmt.Println("Input devices:")
	for _, device := range inputs {
		printDevice(device)
	}
	fmt.Println("Output devices:")
	for _, device := range outputs {
		printDevice(device)
	}
}

func printDevice(device hal.DeviceInfo) {
	marker := " "
	if device.IsDefault {
		marker = "*"
	}
	fmt.Printf("  %s [%d] %s\n", marker, device.ID, device.Name)
}
