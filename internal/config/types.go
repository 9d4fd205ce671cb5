package config

type Mode string

const (
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
)

type Config struct {
	Version  int      `yaml:"version"`
	Defaults Defaults `yaml:"defaults"`
}

type Defaults struct {
	DownloadDir        string   `yaml:"download_dir"`
	Mode               Mode     `yaml:"mode"`
	Resolution         int      `yaml:"resolution"`
	PreferMPEG         bool     `yaml:"prefer_mpeg"`
	AutomaticSubtitles []string `yaml:"automatic_subtitles"`
	LockDir            string   `yaml:"lock_dir"`
	Retries            int      `yaml:"retries"`
	FragmentRetries    int      `yaml:"fragment_retries"`
	MaxTitleBytes      int      `yaml:"max_title_bytes"`
}

func DefaultConfig() Config {
	return Config{
		Version: 1,
		Defaults: Defaults{
			DownloadDir:        "~/Downloads",
			Mode:               ModeVideo,
			Resolution:         1080,
			PreferMPEG:         false,
			AutomaticSubtitles: []string{},
			LockDir:            defaultLockDir(),
			Retries:            10,
			FragmentRetries:    10,
			MaxTitleBytes:      200,
		},
	}
}
