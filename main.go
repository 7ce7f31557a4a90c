package main

import (
	"os"
	"os/signal"
	"syscall"

	"bigcartel/trickle/app"

	"github.com/pkg/profile"
	"github.com/siddontang/go-log/log"
)

func main() {
	app := app.NewApp(false, os.Args[1:])
	defer app.Close()

	log.SetLevelByName(*app.Config.LogLevel)

	var p *profile.Profile
	if *app.Config.RunProfile {
		p = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).(*profile.Profile)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Infoln("Exiting after the current scan and apply finish...")
		app.Shutdown()

		<-ch
		log.Infoln("Exiting now")
		os.Exit(1)
	}()

	err := app.Run()

	if p != nil {
		p.Stop()
	}

	if err != nil {
		app.Close()
		log.Fatal(err)
	}
}
