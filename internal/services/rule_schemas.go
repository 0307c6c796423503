package services

const (
	conditionsSchemaURL   = "https://schemas.ledgerlink.local/rules/conditions.schema.json"
	calculationsSchemaURL = "https://schemas.ledgerlink.local/rules/calculations.schema.json"
)

const conditionsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://schemas.ledgerlink.local/rules/conditions.schema.json",
  "title": "Advanced rule conditions",
  "description": "Map of order field to {operator: expected value}. The reserved logic key holds a JSONLogic expression.",
  "type": "object",
  "properties": {
    "logic": {"type": "object"}
  },
  "additionalProperties": {
    "type": "object",
    "minProperties": 1,
    "additionalProperties": {
      "type": ["string", "number", "boolean", "null", "array"],
      "items": {"type": ["string", "number", "boolean", "null"]}
    }
  }
}`

const calculationsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://schemas.ledgerlink.local/rules/calculations.schema.json",
  "title": "Advanced rule calculations",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type"],
    "properties": {
      "type": {
        "enum": ["flat_fee", "percentage", "per_unit", "weight_based", "volume_based", "tiered_percentage", "product_specific"]
      },
      "value": {"type": ["number", "string", "array", "object"]},
      "tiers": {
        "type": "array",
        "minItems": 1,
        "items": {"$ref": "#/$defs/tier"}
      },
      "rates": {
        "type": "object",
        "minProperties": 1,
        "additionalProperties": {"type": ["number", "string"]}
      }
    }
  },
  "$defs": {
    "tier": {
      "type": "object",
      "required": ["min", "max", "percentage"],
      "properties": {
        "min": {"type": ["number", "string"]},
        "max": {"type": ["number", "string"]},
        "percentage": {"type": ["number", "string"]}
      }
    }
  }
}`
