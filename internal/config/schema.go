package config

// runSchema is the JSON schema every config file must satisfy
// structurally before semantic validation runs. YAML files are
// normalized to JSON first.
const runSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "snaplat run configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "volume": { "type": "string", "minLength": 1 },
    "snapshot": { "type": "string" },
    "threads": { "type": "integer", "minimum": 0 },
    "ops": {
      "type": "array",
      "items": { "enum": ["chmod", "create", "snapshot", "sync"] },
      "uniqueItems": true
    },
    "runtime": { "type": "integer", "minimum": 0 },
    "delay": { "type": "integer", "minimum": 0 },
    "hold": { "type": "integer", "minimum": 0 },
    "output": { "enum": ["verbose", "plot", "json"] },
    "provider": { "enum": ["btrfs", "script"] },
    "script": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "create": { "$ref": "#/$defs/argv" },
        "wait": { "$ref": "#/$defs/argv" },
        "destroy": { "$ref": "#/$defs/argv" },
        "sync": { "$ref": "#/$defs/argv" }
      }
    },
    "metricsAddr": { "type": "string" },
    "logLevel": { "enum": ["debug", "info", "warn", "error"] },
    "logFormat": { "enum": ["console", "json"] }
  },
  "$defs": {
    "argv": {
      "type": "array",
      "items": { "type": "string" },
      "minItems": 1
    }
  }
}`
