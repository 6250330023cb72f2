package ledger

// Minimal ABI fragments for the two contracts the service drives. Only the
// methods and events actually called are declared.

const credentialABI = `[
  {
    "type": "function",
    "name": "balanceOf",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "function",
    "name": "mint",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "encryptedData", "type": "string"},
      {"name": "imageUri", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "transferFrom",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "from", "type": "address"},
      {"name": "to", "type": "address"},
      {"name": "tokenId", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "event",
    "name": "Transfer",
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "tokenId", "type": "uint256", "indexed": true}
    ]
  }
]`

const governanceABI = `[
  {
    "type": "function",
    "name": "indexProposal",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "proposer", "type": "address"},
      {"name": "proposalType", "type": "uint8"},
      {"name": "description", "type": "string"},
      {"name": "conversation", "type": "string"},
      {"name": "timestamp", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "vote",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "proposalId", "type": "uint256"},
      {"name": "support", "type": "bool"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "executeMonthlySelection",
    "stateMutability": "nonpayable",
    "inputs": [],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getProposal",
    "stateMutability": "view",
    "inputs": [{"name": "proposalId", "type": "uint256"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "proposer", "type": "address"},
          {"name": "proposalType", "type": "uint8"},
          {"name": "description", "type": "string"},
          {"name": "conversation", "type": "string"},
          {"name": "timestamp", "type": "uint256"},
          {"name": "approvalCount", "type": "uint256"},
          {"name": "rejectionCount", "type": "uint256"},
          {"name": "status", "type": "uint8"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "getActiveProposals",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256[]"}]
  },
  {
    "type": "function",
    "name": "getMonthlyProposals",
    "stateMutability": "view",
    "inputs": [{"name": "month", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256[]"}]
  },
  {
    "type": "function",
    "name": "getWinningProposals",
    "stateMutability": "view",
    "inputs": [{"name": "month", "type": "uint256"}],
    "outputs": [{"name": "", "type": "uint256[]"}]
  }
]`
