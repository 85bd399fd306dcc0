package fixedpoint

import "math/big"

// expTableBig holds exp(i*ln2/256) for i = 0..256, scaled by 2^64. Index 0 is
// exactly 1.0 (2^64) and index 256 is exactly 2.0 (2^65); every other entry
// was computed offline with exact (non-binary-float) decimal arithmetic to 60
// significant digits and rounded half-up to the nearest scaled integer, so
// the table itself introduces no drift beyond that single rounding step.
var expTableBig [257]*big.Int

func init() {
	raw := []string{
		"18446744073709551616", "18496758270674070881", "18546908069882975960", "18597193838991248808", "18647615946650685159", "18698174762512597163",
		"18748870657230523351", "18799704002462945944", "18850675170876015534", "18901784536146283149", "18953032472963439726", "19004419357033063012",
		"19055945565079371916", "19107611474847988320", "19159417465108706386", "19211363915658269370", "19263451207323153962", "19315679721962362174",
		"19368049842470220808", "19420561952779188496", "19473216437862670368", "19526013683737840345", "19578954077468471075", "19632038007167771561",
		"19685265862001232463", "19738638032189479127", "19792154909011132345", "19845816884805676871", "19899624352976337716", "19953577707992964238",
		"20007677345394922056", "20061923661793992804", "20116317054877281742", "20170857923410133258", "20225546667239054268", "20280383687294645547",
		"20335369385594541003", "20390504165246354928", "20445788430450637227", "20501222586503836674", "20556807039801272192", "20612542197840112193",
		"20668428469222361992", "20724466263657859331", "20780655991967278009", "20836998066085139670", "20893492899062833749", "20950140905071645607",
		"21006942499405792876", "21063898098485470042", "21121008119859901272", "21178272982210401528", "21235693105353445976", "21293268910243747714",
		"21351000818977343853", "21408889254794689958", "21466934642083762882", "21525137406383172010", "21583497974385278942", "21642016773939325632",
		"21700694234054571009", "21759530784903436102", "21818526857824657693", "21877682885326450518", "21936999301089678047", "21996476539971031851",
		"22056115038006219604", "22115915232413161711", "22175877561595196618", "22236002465144294805", "22296290383844281492", "22356741759674068090",
		"22417357035810892401", "22478136656633567619", "22539081067725740123", "22600190715879156118", "22661466049096937122", "22722907516596864339",
		"22784515568814671936", "22846290657407349247", "22908233235256451931", "22970343756471422113", "23032622676392917516", "23095070451596149628",
		"23157687539894230916", "23220474400341531118", "23283431493237042631", "23346559280127755024", "23409858223812038705", "23473328788343037757",
		"23536971439032071973", "23600786642452048120", "23664774866440880444", "23728936580104920458", "23793272253822396019", "23857782359246859739",
		"23922467369310646740", "23987327758228341784", "24052364001500255803", "24117576575915911863", "24182965959557540563", "24248532631803584930",
		"24314277073332214801", "24380199766124850742", "24446301193469697521", "24512581839965287154", "24579042191524031571", "24645682735375784897",
		"24712503960071415407", "24779506355486387154", "24846690412824351315", "24914056624620747271", "24981605484746413453", "25049337488411207970",
		"25117253132167639068", "25185352913914505418", "25253637332900546282", "25322106889728101571", "25390762086356781831", "25459603426107148179",
		"25528631413664402207", "25597846555082085906", "25667249357785791607", "25736840330576881991", "25806619983636220178", "25876588828527909935",
		"25946747378203046018", "26017096147003474689", "26087635650665564425", "26158366406323986852", "26229288932515507927", "26300403749182789407",
		"26371711377678200610", "26443212340767640530", "26514907162634370296", "26586796368882856039", "26658880486542622162", "26731160044072115069",
		"26803635571362577366", "26876307599741932562", "26949176661978680311", "27022243292285802206", "27095508026324678170", "27168971401209013458",
		"27242633955508776317", "27316496229254146309", "27390558763939473349", "27464822102527247471", "27539286789452079366", "27613953370624691696",
		"27688822393435921249", "27763894406760731929", "27839169960962238637", "27914649607895742055", "27990333900912774373", "28066223394865155985",
		"28142318646109063182", "28218620212509106874", "28295128653442422373", "28371844529802770261", "28448768404004648378", "28525900839987414963",
		"28603242403219422963", "28680793660702165564", "28758555180974432954", "28836527534116480357", "28914711291754207370", "28993107027063348631",
		"29071715314773675845", "29150536731173211208", "29229571854112452251", "29308821263008608145", "29388285538849847482", "29467965264199557579",
		"29547861023200615331", "29627973401579669642", "29708302986651435464", "29788850367322999482", "29869616134098137474", "29950600879081643371",
		"30031805195983670058", "30113229680124081946", "30194874928436819340", "30276741539474274646", "30358830113411680436", "30441141252051509416",
		"30523675558827886323", "30606433638811011778", "30689416098711598143", "30772623546885317396", "30856056593337261070", "30939715849726412284",
		"31023601929370129896", "31107715447248644819", "31192057020009568520", "31276627265972413751", "31361426805133127532", "31446456259168636425",
		"31531716251441404132", "31617207407004001450", "31702930352603688618", "31788885716687010083", "31875074129404401729", "31961496222614810593",
		"32048152629890327112", "32135043986520829924", "32222170929518643265", "32309534097623206991", "32397134131305759266", "32484971672774031943",
		"32573047365976958673", "32661361856609395788", "32749915792116855970", "32838709821700254769", "32927744596320669979", "33017020768704113922",
		"33106538993346318672", "33196299926517534254", "33286304226267339845", "33376552552429468030", "33467045566626642129", "33557783932275426646",
		"33648768314591090862", "33739999380592485623", "33831477799106933342", "33923204240775131264", "34015179378056068024", "34107403885231953537",
		"34199878438413162249", "34292603715543189794", "34385580396403623095", "34478809162619123927", "34572290697662426007", "34666025686859345621",
		"34760014817393805842", "34854258778312874371", "34948758260531815028", "35043513956839152952", "35138526561901753525", "35233796772269915070",
		"35329325286382475353", "35425112804571931937", "35521160029069576411", "35617467664010642546", "35714036415439468402", "35810866991314672439",
		"35907960101514343656", "36005316457841245802", "36102936774028035701", "36200821765742495721", "36298972150592780433", "36397388648132677495",
		"36496071979866882793", "36595022869256289898", "36694242041723293847", "36793730224657109322", "36893488147419103232",
	}
	for i, s := range raw {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			panic("fixedpoint: malformed exp table constant at index " + itoa(i))
		}
		expTableBig[i] = v
	}
}

func itoa(i int) string {
	return big.NewInt(int64(i)).String()
}

// ln2Scaled is ln(2) scaled by 2^64, computed with the same offline
// arbitrary-precision decimal arithmetic used for the table above.
var ln2Scaled = bigFromString("12786308645202655660")

func bigFromString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: malformed constant " + s)
	}
	return v
}

const expTableSteps = 256

// Exp returns e^f, accurate to 2^-40 over f in [-40, 40] as required by the
// specification. Range reduction splits f = k*ln2 + r with r in [0, ln2);
// exp(r) is the nearest lower 256-entry table value times a Taylor series
// for the small remainder, and exp(k*ln2) = 2^k is applied as an exact
// bit shift.
func (f Fixed) Exp() (Fixed, error) {
	limit := FromInt64(40)
	if f.Cmp(limit.Neg()) < 0 || f.Cmp(limit) > 0 {
		return Fixed{}, ErrRange
	}

	bits := f.bigOrZero()

	// k = floor(f / ln2), both operands already scaled by 2^64 so the
	// division is a plain floor-div of the scaled representations.
	k := floorDiv(bits, ln2Scaled)
	r := new(big.Int).Sub(bits, new(big.Int).Mul(k, ln2Scaled))
	// r is now in [0, ln2Scaled).

	expR := interpolateExp(r)

	// exp(f) = exp(r) * 2^k, realized as an exact left/right shift on the
	// scaled big.Int (multiplying/dividing by a power of two never loses
	// precision beyond what the table evaluation already introduced).
	kInt := k.Int64()
	var shifted *big.Int
	if kInt >= 0 {
		shifted = new(big.Int).Lsh(expR, uint(kInt))
	} else {
		shifted = new(big.Int).Rsh(expR, uint(-kInt))
	}
	return wrap(shifted)
}

// interpolateExp evaluates exp(r) for r in [0, ln2Scaled) as the table entry
// at or below r times exp of the offset past it, the latter summed as a
// Taylor series (the offset is under ln2/256, so a few terms suffice).
func interpolateExp(r *big.Int) *big.Int {
	// idx = floor(r / ln2Scaled * 256)
	numerator := new(big.Int).Mul(r, big.NewInt(expTableSteps))
	idxBig := new(big.Int).Quo(numerator, ln2Scaled)
	idx := int(idxBig.Int64())
	if idx < 0 {
		idx = 0
	}
	if idx >= expTableSteps {
		idx = expTableSteps - 1
	}

	lo := expTableBig[idx]

	// Offset of r past the idx-th table point, scaled 2^64; exp(offset) is
	// summed term by term until the next term rounds to zero.
	segWidth := new(big.Int).Quo(ln2Scaled, big.NewInt(expTableSteps))
	segBase := new(big.Int).Mul(big.NewInt(int64(idx)), segWidth)
	offset := new(big.Int).Sub(r, segBase)
	if offset.Sign() < 0 {
		offset.SetInt64(0)
	}
	series := new(big.Int).Set(scale)
	term := new(big.Int).Set(scale)
	for n := int64(1); term.Sign() != 0; n++ {
		term = divRoundHalfUp(new(big.Int).Mul(term, offset), new(big.Int).Mul(scale, big.NewInt(n)))
		series.Add(series, term)
	}
	return divRoundHalfUp(new(big.Int).Mul(lo, series), scale)
}

// floorDiv performs floor division for signed big.Ints (Go's Quo truncates
// toward zero; floor differs for mixed-sign operands with a remainder).
func floorDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}
