package protocol

// tokenDocument is a protocol document published by a token process.
const tokenDocument = `{
  "protocolVersion": "1.0",
  "name": "Demo Token",
  "capabilities": {"transfer": true},
  "lastUpdated": "2024-05-01T00:00:00Z",
  "handlers": [
    {"action": "Info", "description": "Token info", "isWrite": false},
    {"action": "Balance", "description": "Get the balance of an account", "isWrite": false,
     "parameters": [{"name": "Target", "type": "address", "required": false}]},
    {"action": "Transfer", "description": "Transfer tokens to a recipient", "isWrite": true,
     "parameters": [
       {"name": "Target", "type": "address", "required": true},
       {"name": "Quantity", "type": "string", "required": true}
     ],
     "examples": ["Transfer Target=abc Quantity=10"]}
  ]
}`
