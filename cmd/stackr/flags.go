package main

// Flag structs decouple cobra from command logic for testing.

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type AddFlags struct {
	Name    string
	Kind    string
	Domain  string
	Version string
	Port    int
}

type EventsFlags struct {
	Count int
}

type InitFlags struct {
	Profile string
	Output  string
	Home    string
	Force   bool
}
