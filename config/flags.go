package config

import (
	"flag"
	"os"
	"strings"
)

// fromFlags parses the command line. The returned path is non-empty
// when the user pointed at a yaml file, in which case the rest of the
// flags are ignored.
func fromFlags() (string, Config) {
	configPath := flag.String("config", "", "path to yaml config")
	datapath := flag.String("datapath", "", "directory for candle data, records and settings")
	symbols := flag.String("symbols", "", "comma-separated target symbols, example: BTCUSDT,ETHUSDT")
	assetToken := flag.String("assettoken", "USDT", "quote asset token, USDT or BUSD")
	webAddr := flag.String("webaddr", DefaultWebAddr, "dashboard listen address")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn or error")
	flag.Parse()

	cfg := Config{
		DataDir:       *datapath,
		AssetToken:    *assetToken,
		WebAddr:       *webAddr,
		LogLevel:      *logLevel,
		BinanceKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecret: os.Getenv("BINANCE_API_SECRET"),
	}
	if *symbols != "" {
		cfg.Symbols = strings.Split(*symbols, ",")
	}
	return *configPath, cfg
}
