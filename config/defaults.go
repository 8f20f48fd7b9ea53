package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/julius",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		API: APIConfig{
			BaseURL: "https://api.julius.ai",
			Origin:  "https://julius.ai",
		},
		Chat: ChatConfig{
			DefaultModel:    "default",
			ServerType:      "CPU",
			ChatMode:        "auto",
			ClientVersion:   "20240130",
			Theme:           "light",
			DataframeFormat: "json",
			KnownModels:     DefaultKnownModels(),
		},
		Pipeline: PipelineConfig{
			AttachmentConcurrency: 1,
			MaxFragmentBytes:      8 * 1024 * 1024,
			RequestTimeout:        "2m",
		},
		Security: SecurityConfig{
			CredentialStorage: SecurityPlainText,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Julius CLI System Configuration
# Location: ~/.config/julius/settings.toml
# This file uses TOML format: https://toml.io

# Directory where history, credentials and user config are stored
data_directory = "~/.local/share/julius"
`
}

func GenerateUserConfigTemplate() string {
	return `# Julius CLI User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io
#
# The API key is not read from this file. Set JULIUS_API_KEY or run
# "julius config set-key".

[api]
base_url = "https://api.julius.ai"
origin = "https://julius.ai"

[chat]
# Model used when --model is not given. "default" lets the service choose.
default_model = "default"

# Values sent with every session and message request
server_type = "CPU"
chat_mode = "auto"
client_version = "20240130"
theme = "light"
dataframe_format = "json"

# Names --model is fuzzy-matched against. Unknown names are sent unchanged.
known_models = ["default", "gpt-4o", "o1-mini", "o1", "claude-3-5-sonnet", "gemini-1.5-pro"]

[pipeline]
# Files of one message uploaded in parallel (1 = one at a time)
attachment_concurrency = 1

# Fail an exchange when a response stream ends inside a fragment
strict_truncation = false

# Largest single streamed fragment before it is dropped with a warning
max_fragment_bytes = 8388608

# Timeout for each non-streaming request
request_timeout = "2m"

[security]
# "plaintext" (credentials.toml, 0600) or "ssh_key" (credentials.enc, AES-256-GCM)
credential_storage = "plaintext"

# SSH private key used by ssh_key storage. Empty picks the first key in ~/.ssh.
# ssh_key_path = "~/.ssh/id_ed25519"
`
}
