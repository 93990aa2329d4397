package config

// GetDefaultConfigTemplate returns a commented configuration file with every
// default spelled out
func GetDefaultConfigTemplate() string {
	return `# previz configuration

[provider]
base_url = "https://api.replicate.com/v1"
model_id = "black-forest-labs/flux-schnell"
# preview_model_id = ""
submit_rate_limit_per_minute = 60
status_rate_limit_per_minute = 600
http_timeout_seconds = 30

[polling]
base_interval_seconds = 2.0
growth_factor = 1.05
max_interval_seconds = 5.0
max_attempts = 120

[retry]
max_attempts = 3
base_delay_seconds = 2.0
multiplier = 2.0
max_delay_seconds = 60.0
# max_total_attempts = 12
stall_window_seconds = 90.0
hard_timeout_seconds = 720.0

[batch]
groups = [["front", "back", "left"], ["right", "up", "down"]]
settle_delay_ms = 500

[generation]
guidance_scale = 7.5
steps = 30
resolution = "hd"
# negative_prompt = ""

[prompts]
# Optional templates; fields: {{.Prompt}}, {{.Direction}}, {{.Hint}}
# face = "{{.Prompt}}, {{.Direction}} view, {{.Hint}}"
# explore = "{{.Prompt}}, {{.Hint}}, same environment, continuing in {{.Direction}} direction"

[output]
dir = "output"

[metrics]
# addr = ":9090"
`
}
