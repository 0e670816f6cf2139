// Package network classifies target networks and loads their provisioning
// configuration.
//
// A network is either Ephemeral (a disposable local simulation whose state
// does not survive the run, where mock contracts are available) or Durable (a
// persistent chain where every remote side effect is real and must be
// reconciled rather than repeated). Classification happens once per run and
// yields a Policy that the provisioning pipeline threads through every step.
//
// Configuration is a CUE file unified with the embedded schema in schema.cue:
//
//	development_chains: ["hardhat", "localhost"]
//	networks: sepolia: {
//		chain_id:           11155111
//		coordinator:        "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"
//		funding_token:      "0x779877A7B0D9E8603169DdbD7836e478b4624789"
//		subscription_id:    0
//		gas_lane:           "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"
//		update_interval:    30
//		entrance_fee:       "10000000000000000"
//		callback_gas_limit: 500000
//	}
package network
