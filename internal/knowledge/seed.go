package knowledge

import (
	"context"
	"fmt"

	"terrasite/internal/embedding"
	"terrasite/internal/logging"

	"go.uber.org/zap"
)

// seedRule is one built-in corpus record before embedding.
type seedRule struct {
	text string
	meta map[string]string
}

// deploymentRules is the built-in siting doctrine, one record per unit
// type. Buffer distances are meters from inhabited areas.
var deploymentRules = []seedRule{
	{
		text: "Light infantry sites well on mid-elevation ground with gentle slopes and moderate natural cover such as shrubs or mixed grass and trees. Keep a 100-300 m buffer from inhabited areas: close enough to exploit building edges for concealment, far enough to avoid direct exposure.",
		meta: map[string]string{"unit": "light infantry", "type": "deployment_rule"},
	},
	{
		text: "Heavy infantry prefers low to mid elevation defensive ground with gentle to moderate slopes and low to moderate vegetation cover, leaving room to deploy weapons while using tree lines for screening. Keep a 200-500 m buffer from inhabited areas.",
		meta: map[string]string{"unit": "heavy infantry", "type": "deployment_rule"},
	},
	{
		text: "Mechanized infantry needs mid-elevation transitional terrain with low to moderate slopes that armored vehicles can traverse. Sparse woodland, grassland or field margins are suitable; dense forest blocks vehicle movement. Keep a 300-600 m buffer from inhabited areas.",
		meta: map[string]string{"unit": "mechanized infantry", "type": "deployment_rule"},
	},
	{
		text: "Tank units need open low to mid elevation ground with flat overall slopes. Vegetation should be low grass, sparse shrubs or cleared areas preserving fields of view and maneuver space. Keep a 500-1000 m buffer from inhabited areas to avoid urban constraints on armor.",
		meta: map[string]string{"unit": "tank unit", "type": "deployment_rule"},
	},
	{
		text: "Anti-tank infantry sites on mid to high elevation ambush positions, accepting moderate or locally steep slopes that give plunging fire. High-concealment vegetation such as forest edges and brush belts hides positions. Keep a 150-400 m buffer from inhabited areas.",
		meta: map[string]string{"unit": "anti-tank infantry", "type": "deployment_rule"},
	},
	{
		text: "Self-propelled artillery deploys on mid-elevation or reverse-slope ground with gentle slopes for stable firing platforms. Low grass or scattered trees give some screening without masking fires or resupply. Keep a 600-1000 m buffer from inhabited areas.",
		meta: map[string]string{"unit": "self-propelled artillery", "type": "deployment_rule"},
	},
	{
		text: "Air defense units prefer mid to high elevation with gentle or moderate slopes so radar and fire sectors stay clear. Vegetation should be low or broken; continuous tall canopy masks detection. Keep a 300-700 m buffer from inhabited areas.",
		meta: map[string]string{"unit": "air defense unit", "type": "deployment_rule"},
	},
	{
		text: "Sniper teams occupy high-elevation vantage points, tolerating moderate to steep local slopes that open fields of fire. They need high-concealment vegetation: forest edges, brush or irregular ground cover. Keep a 50-200 m buffer from inhabited areas to work the urban fringe.",
		meta: map[string]string{"unit": "sniper team", "type": "deployment_rule"},
	},
	{
		text: "Special forces favor complex terrain with pronounced elevation change and slopes from gentle to steep, using mixed woodland, brush and grass mosaics for cover and route options. Keep a 200-500 m buffer from inhabited areas so infiltration stays unobserved.",
		meta: map[string]string{"unit": "special forces", "type": "deployment_rule"},
	},
	{
		text: "Engineer units work low to mid elevation key points with gentle slopes that allow construction plant to operate. Vegetation should be moderate or clearable. Keep a 100-400 m buffer from inhabited areas to support infrastructure without crowding it.",
		meta: map[string]string{"unit": "engineer unit", "type": "deployment_rule"},
	},
	{
		text: "Logistics units need low, secure, flat ground with trafficable low vegetation or prepared surfaces so supply routes stay open. Keep a 500-1000 m buffer from inhabited areas to reduce interference.",
		meta: map[string]string{"unit": "logistics unit", "type": "deployment_rule"},
	},
	{
		text: "Command posts site on mid-elevation concealed ground, gentle slopes or terraces, with natural screening such as forest edges that does not degrade communications. Keep a 300-600 m buffer from inhabited areas, balancing security against signal reach.",
		meta: map[string]string{"unit": "command post", "type": "deployment_rule"},
	},
	{
		text: "Drone control units deploy on mid to high elevation with small slopes for stable equipment operation, and low or broken vegetation that leaves launch paths and line of sight clear. Keep a 400-800 m buffer from inhabited areas to avoid electromagnetic interference.",
		meta: map[string]string{"unit": "drone control unit", "type": "deployment_rule"},
	},
}

// equipmentFacts carries weapon range data used when choosing buffer
// distances during replanning.
var equipmentFacts = []seedRule{
	{
		text: "Light infantry carries assault rifles with a 300-400 m effective range, 800 m maximum. Buffer distances should keep the position inside effective coverage of its sector.",
		meta: map[string]string{"unit": "light infantry", "type": "equipment_info", "range": "300-400", "max_range": "800"},
	},
	{
		text: "Heavy infantry fields heavy machine guns with a 400-500 m effective range, 1000 m maximum. Plan buffer distances so fire can still cover the approaches.",
		meta: map[string]string{"unit": "heavy infantry", "type": "equipment_info", "range": "400-500", "max_range": "1000"},
	},
	{
		text: "Mechanized infantry operates light armored vehicles with a 500-600 m effective range, 1200 m maximum. Buffer distances should account for the longer engagement envelope.",
		meta: map[string]string{"unit": "mechanized infantry", "type": "equipment_info", "range": "500-600", "max_range": "1200"},
	},
	{
		text: "Tank units mount main guns with a 600-700 m effective range in close terrain, 1500 m maximum. Wide buffers keep standoff without losing coverage.",
		meta: map[string]string{"unit": "tank unit", "type": "equipment_info", "range": "600-700", "max_range": "1500"},
	},
	{
		text: "Anti-tank infantry employs guided missiles with a 700-800 m effective range, 1800 m maximum. Ambush positions may sit further out and still cover armor avenues.",
		meta: map[string]string{"unit": "anti-tank infantry", "type": "equipment_info", "range": "700-800", "max_range": "1800"},
	},
	{
		text: "Self-propelled artillery ranges 800-900 m direct, 2000 m maximum in this dataset. Firing positions tolerate large buffers from inhabited areas.",
		meta: map[string]string{"unit": "self-propelled artillery", "type": "equipment_info", "range": "800-900", "max_range": "2000"},
	},
	{
		text: "Air defense units launch missiles with a 1000-1100 m effective range, 2400 m maximum. Coverage is area-wide, so siting optimizes sensor elevation over proximity.",
		meta: map[string]string{"unit": "air defense unit", "type": "equipment_info", "range": "1000-1100", "max_range": "2400"},
	},
	{
		text: "Sniper teams use precision rifles with a 1100-1200 m effective range, 2600 m maximum. Small buffers from inhabited areas are acceptable because of reach.",
		meta: map[string]string{"unit": "sniper team", "type": "equipment_info", "range": "1100-1200", "max_range": "2600"},
	},
}

// sampleExecutions primes the execution-history category so the first
// parameter-inference call has examples to retrieve.
var sampleExecutions = []seedRule{
	{
		text: "Tool buffer executed with buffer_distance=500: succeeded, producing an open-ground layer away from buildings and roads",
		meta: map[string]string{"tool": "buffer", "status": "succeeded"},
	},
	{
		text: "Tool elevation executed with min_elev=100 max_elev=500 on the buffer output: succeeded",
		meta: map[string]string{"tool": "elevation", "status": "succeeded"},
	},
	{
		text: "Chained buffer then slope with max_slope=15 to keep gentle terrain: succeeded",
		meta: map[string]string{"tool": "slope", "status": "succeeded"},
	},
	{
		text: "Tool vegetation executed keeping vegetation_types [30, 60] (grassland and bare ground): succeeded",
		meta: map[string]string{"tool": "vegetation", "status": "succeeded"},
	},
}

// Seed replaces the built-in categories with the shipped corpus, embedding
// every record with the passage prefix. Returns the number of entries
// written.
func Seed(ctx context.Context, store *SQLiteStore, engine embedding.Engine) (int, error) {
	log := logging.Get(logging.CategoryStore)
	total := 0

	for cat, rules := range map[Category][]seedRule{
		CategoryKnowledge:  deploymentRules,
		CategoryEquipment:  equipmentFacts,
		CategoryExecutions: sampleExecutions,
	} {
		entries := make([]Entry, len(rules))
		for i, r := range rules {
			vec, err := embedding.EmbedPassage(ctx, engine, r.text)
			if err != nil {
				return total, fmt.Errorf("failed to embed seed entry for %s: %w", cat, err)
			}
			entries[i] = Entry{
				ID:        fmt.Sprintf("%s_%d", cat, i),
				Category:  cat,
				Text:      r.text,
				Metadata:  r.meta,
				Embedding: vec,
			}
		}
		if err := store.Replace(ctx, cat, entries); err != nil {
			return total, fmt.Errorf("failed to seed %s: %w", cat, err)
		}
		log.Info("seeded category", zap.String("category", string(cat)), zap.Int("entries", len(entries)))
		total += len(entries)
	}

	return total, nil
}
