package main

import (
	"flag"
	"log"
	"os"

	"github.com/robotalks/uloader/pkg/config"
	"github.com/robotalks/uloader/pkg/report"
)

var (
	mqttURL = "mqtt://localhost:1883/"
	host    = "+"
)

func init() {
	if val := os.Getenv(config.EnvMQTTURL); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&host, "host", host, "Only show runs of this host ID.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := report.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	defer q.Close()

	q.Sub(report.TopicRoot+"/"+host+"/#", func(topic string, payload []byte) {
		e, err := report.DecodeEvent(payload)
		if err != nil {
			log.Printf("%s: bad event: %v", topic, err)
			return
		}
		log.Printf("%s: %s", topic, e)
	})
	<-(chan struct{})(nil)
}
