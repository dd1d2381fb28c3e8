package contract

// ManagerABI is the ABI of the DataProviderManager registry contract.
const ManagerABI = `[
	{"type":"function","name":"register","stateMutability":"payable","inputs":[{"name":"hostname","type":"string"},{"name":"port","type":"uint16"}],"outputs":[]},
	{"type":"function","name":"requestWithdrawal","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"executeWithdrawal","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"}],"outputs":[]},
	{"type":"function","name":"buyInsurance","stateMutability":"payable","inputs":[{"name":"providers","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"insuranceId","type":"uint256"}]},
	{"type":"function","name":"unlockStake","stateMutability":"nonpayable","inputs":[{"name":"insuranceId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"slash","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"},{"name":"evidence","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"verifySignature","stateMutability":"view","inputs":[{"name":"signer","type":"address"},{"name":"blockNumber","type":"uint256"},{"name":"blockHash","type":"bytes32"},{"name":"proof","type":"bytes"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"dataProvidersCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"dataProviderAt","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"dataProviders","stateMutability":"view","inputs":[{"name":"provider","type":"address"}],"outputs":[
		{"name":"stake","type":"uint256"},
		{"name":"lockedStake","type":"uint256"},
		{"name":"isActive","type":"bool"},
		{"name":"isLeaving","type":"bool"},
		{"name":"leavingSinceBlock","type":"uint256"},
		{"name":"hostname","type":"string"},
		{"name":"port","type":"uint16"}
	]},
	{"type":"event","name":"RegisterRequested","anonymous":false,"inputs":[{"name":"provider","type":"address","indexed":true},{"name":"stake","type":"uint256","indexed":false}]},
	{"type":"event","name":"WithdrawalRequested","anonymous":false,"inputs":[{"name":"provider","type":"address","indexed":true}]},
	{"type":"event","name":"Withdrawn","anonymous":false,"inputs":[{"name":"provider","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"InsuranceBought","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":true},{"name":"insuranceId","type":"uint256","indexed":false}]},
	{"type":"event","name":"StakesUnlocked","anonymous":false,"inputs":[{"name":"insuranceId","type":"uint256","indexed":false}]},
	{"type":"event","name":"Slashed","anonymous":false,"inputs":[{"name":"provider","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`
