package config

var defaultServer = ServerConfig{
	BindAddress:    "127.0.0.1",
	Port:           6380,
	ReadTimeoutMs:  300_000,
	WriteTimeoutMs: 10_000,
	MaxFrameBytes:  4 << 20,
}

var defaultEngine = EngineConfig{
	Shards:          256,
	MaxMemoryBytes:  0, // unlimited
	SweepIntervalMs: 60_000,
}

var defaultLog = LogConfig{
	Level: "info",
}

func Default() *Config {
	return &Config{
		Server: defaultServer,
		Engine: defaultEngine,
		Log:    defaultLog,
	}
}

func (c *ServerConfig) PopulateDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = defaultServer.BindAddress
	}
	if c.Port == 0 {
		c.Port = defaultServer.Port
	}
	if c.ReadTimeoutMs == 0 {
		c.ReadTimeoutMs = defaultServer.ReadTimeoutMs
	}
	if c.WriteTimeoutMs == 0 {
		c.WriteTimeoutMs = defaultServer.WriteTimeoutMs
	}
	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = defaultServer.MaxFrameBytes
	}
}

func (c *EngineConfig) PopulateDefaults() {
	if c.Shards == 0 {
		c.Shards = defaultEngine.Shards
	}
	if c.SweepIntervalMs == 0 {
		c.SweepIntervalMs = defaultEngine.SweepIntervalMs
	}
}

func (c *LogConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLog.Level
	}
}

func (c *Config) PopulateDefaults() {
	c.Server.PopulateDefaults()
	c.Engine.PopulateDefaults()
	c.Log.PopulateDefaults()
}
